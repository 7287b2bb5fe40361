// ticket 订票服务
package main

import (
	"os"

	"github.com/MathisDulieu/Booking-sub000/app"
)

func main() {
	os.Exit(app.Main("ticket", os.Args[1:], os.Stderr))
}
