// auth 注册、登录与会话校验服务
package main

import (
	"os"

	"github.com/MathisDulieu/Booking-sub000/app"
)

func main() {
	os.Exit(app.Main("auth", os.Args[1:], os.Stderr))
}
