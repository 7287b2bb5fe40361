// event 活动管理服务
package main

import (
	"os"

	"github.com/MathisDulieu/Booking-sub000/app"
)

func main() {
	os.Exit(app.Main("event", os.Args[1:], os.Stderr))
}
