package main

import (
	"flag"
	"log"
	"os"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/PapiCZ/nachosgo/addrspace"
	"github.com/PapiCZ/nachosgo/kernel"
	"github.com/PapiCZ/nachosgo/network"
	"github.com/PapiCZ/nachosgo/shell"
)

func main() {
	var (
		addr        = flag.Int("addr", 0, "this machine's network address")
		diskPath    = flag.String("disk", "nachos.disk", "disk image path")
		numSectors  = flag.Int("sectors", 2048, "disk sector count")
		format      = flag.Bool("format", false, "format the disk on boot")
		reliability = flag.Float64("reliability", 1.0, "packet delivery probability")
	)
	flag.Parse()

	medium := network.NewMedium()

	cfg := kernel.Config{
		Addr:         int32(*addr),
		DiskPath:     *diskPath,
		NumSectors:   *numSectors,
		Format:       *format,
		NumPhysPages: addrspace.MaxProcesses * 8,
		Reliability:  *reliability,
		Seed:         time.Now().UnixNano(),
	}

	logger := log.New(os.Stdout, "nachos: ", log.LstdFlags)

	k, err := kernel.New(
		cfg,
		medium,
		kernel.FlatLoader{},
		kernel.FlatMachineFactory{NumPhysPages: cfg.NumPhysPages},
		logger,
		func() int64 { return time.Now().UnixNano() },
	)
	if err != nil {
		logger.Fatal(err)
	}

	sh := ishell.New()
	sh.SetPrompt("nachos> ")
	shell.Register(sh, k)
	sh.Run()
}
