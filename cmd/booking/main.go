// booking 单进程运行全部领域服务与网关，适合本地开发
package main

import (
	"os"

	"github.com/MathisDulieu/Booking-sub000/app"
)

func main() {
	os.Exit(app.Main(app.RoleAll, os.Args[1:], os.Stderr))
}
