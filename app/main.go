package app

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/MathisDulieu/Booking-sub000/server"
)

// Version 构建时通过 -ldflags "-X" 注入
var Version = "dev"

// Main 进程入口，返回退出码
func Main(role string, args []string, stderr io.Writer) int {
	engine := server.NewEngine(New(role, args), server.WithVersion(Version))
	if err := engine.Start(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
