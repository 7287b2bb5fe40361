// notification 邮件通知服务
package main

import (
	"os"

	"github.com/MathisDulieu/Booking-sub000/app"
)

func main() {
	os.Exit(app.Main("notification", os.Args[1:], os.Stderr))
}
