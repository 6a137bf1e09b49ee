package main

import (
	"github.com/corralhq/corral-internal/internal/common/logtrace"
	"github.com/corralhq/corral-internal/internal/storagesrv/cli"
)

func init() {
	logtrace.InitLogger()
}

func main() {
	cli.Execute()
}
