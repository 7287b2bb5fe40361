// gateway 对外提供 HTTP 接口，经消息代理调用各领域服务
package main

import (
	"os"

	"github.com/MathisDulieu/Booking-sub000/app"
)

func main() {
	os.Exit(app.Main("gateway", os.Args[1:], os.Stderr))
}
