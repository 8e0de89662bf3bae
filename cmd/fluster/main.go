package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/flusterfs/fluster/disks"
	"github.com/flusterfs/fluster/fs"
	"github.com/flusterfs/fluster/pool"
)

func main() {
	app := cli.App{
		Name:   "fluster",
		Usage:  "Mount a pool of floppy disks as one filesystem",
		Action: mount,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "block-device-path",
				Usage: "path to the floppy drive block device",
			},
			&cli.StringFlag{
				Name:     "mount-point",
				Usage:    "directory to mount the pool at",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "use-virtual-disks",
				Usage: "use a directory of per-disk image files instead of a drive",
			},
			&cli.StringFlag{
				Name:  "backup-dir",
				Usage: "mirror virtual disk files into this directory after header updates",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "enable debug logging",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "fluster: %s\n", err.Error())
		os.Exit(1)
	}
}

func mount(c *cli.Context) error {
	if c.Bool("verbose") {
		log.SetLevel(log.DebugLevel)
	}

	devicePath := c.String("block-device-path")
	virtualDir := c.String("use-virtual-disks")
	if devicePath == "" && virtualDir == "" {
		return fmt.Errorf("either --block-device-path or --use-virtual-disks is required")
	}

	if virtualDir != "" {
		info, err := os.Stat(virtualDir)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("--use-virtual-disks must point at an existing directory")
		}
	} else {
		// A real device must be exactly one floppy big.
		info, err := os.Stat(devicePath)
		if err != nil {
			return fmt.Errorf("cannot access block device: %w", err)
		}
		if info.Mode().IsRegular() {
			if err := disks.ValidateDeviceSize(info.Size()); err != nil {
				return err
			}
		}
	}

	mountPoint := c.String("mount-point")
	if err := os.MkdirAll(mountPoint, 0o755); err != nil {
		return fmt.Errorf("cannot create mount point: %w", err)
	}

	p, err := pool.Load(pool.Config{
		DevicePath:     devicePath,
		VirtualDiskDir: virtualDir,
		BackupDir:      c.String("backup-dir"),
		Interactive:    isatty.IsTerminal(os.Stdin.Fd()),
	})
	if err != nil {
		return fmt.Errorf("failed to load the pool: %w", err)
	}

	server := fs.NewServer(p)
	mounted, err := fs.Mount(mountPoint, server)
	if err != nil {
		return fmt.Errorf("mount failed: %w", err)
	}
	log.Infof("pool mounted at %s", mountPoint)

	// Unmount on ctrl-c so the kernel sends Destroy and the pool flushes.
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-interrupts
		log.Info("unmounting")
		if err := fuseUnmount(mountPoint); err != nil {
			log.WithError(err).Warn("unmount failed; is something using the mount?")
		}
	}()

	return mounted.Join(c.Context)
}
