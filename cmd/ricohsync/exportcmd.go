package main

// `ricohsync export`/`ricohsync import` move the paired-device list and the
// global sync flag to and from a YAML file, for backup or for carrying a
// configuration between hosts. Both are thin wrappers over internal/store's
// Export/Import.

import (
	"context"
	"flag"
	"os"

	"ricohsync/internal/config"
	"ricohsync/internal/store"
	"ricohsync/internal/util"
)

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	out := fs.String("out", "ricohsync-export.yaml", "Path to write the exported device list to")

	cfg, err := config.Load(fs, args)
	if err != nil {
		util.Linef("[ERROR]", util.ColorYellow, "failed to parse configuration: %v", err)
		os.Exit(1)
	}

	s, err := store.Open(cfg.DBPath)
	if err != nil {
		util.Linef("[ERROR]", util.ColorYellow, "failed to open device store: %v", err)
		os.Exit(1)
	}
	defer s.Close()

	if err := s.Export(*out); err != nil {
		util.Linef("[ERROR]", util.ColorYellow, "export failed: %v", err)
		os.Exit(1)
	}
	util.Linef("[EXPORT]", util.ColorGreen, "wrote paired-device list to %s", *out)
}

func runImport(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	in := fs.String("in", "ricohsync-export.yaml", "Path to read the device list to import from")

	cfg, err := config.Load(fs, args)
	if err != nil {
		util.Linef("[ERROR]", util.ColorYellow, "failed to parse configuration: %v", err)
		os.Exit(1)
	}

	s, err := store.Open(cfg.DBPath)
	if err != nil {
		util.Linef("[ERROR]", util.ColorYellow, "failed to open device store: %v", err)
		os.Exit(1)
	}
	defer s.Close()

	if err := s.Import(context.Background(), *in); err != nil {
		util.Linef("[ERROR]", util.ColorYellow, "import failed: %v", err)
		os.Exit(1)
	}
	util.Linef("[IMPORT]", util.ColorGreen, "imported paired-device list from %s", *in)
}
