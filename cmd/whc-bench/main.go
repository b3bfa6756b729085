package main

import (
	"github.com/HJianBo/whc-bench/cmd/whc-bench/cmd"
)

func main() {
	cmd.Execute()
}
