package main

import (
	"github.com/mj1618/support-roster/cmd"
	_ "github.com/mj1618/support-roster/internal/platform/win32"
)

func main() {
	cmd.Execute()
}
