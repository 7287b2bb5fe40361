// user 用户资料服务
package main

import (
	"os"

	"github.com/MathisDulieu/Booking-sub000/app"
)

func main() {
	os.Exit(app.Main("user", os.Args[1:], os.Stderr))
}
