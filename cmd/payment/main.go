// payment 支付服务
package main

import (
	"os"

	"github.com/MathisDulieu/Booking-sub000/app"
)

func main() {
	os.Exit(app.Main("payment", os.Args[1:], os.Stderr))
}
