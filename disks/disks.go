// Package disks describes the removable media the pool can run on. The pool
// format is fixed to 3.5" high-density floppies, but the drive layer accepts
// any medium with the same geometry, so the catalog records which known
// formats qualify.
package disks

import (
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
)

// DiskGeometry describes one floppy format.
type DiskGeometry struct {
	Name               string `csv:"name"`
	Slug               string `csv:"slug"`
	FirstYearAvailable uint   `csv:"first_year_available"`
	FormFactor         string `csv:"form_factor"`
	BytesPerSector     uint   `csv:"bytes_per_sector"`
	SectorsPerTrack    uint   `csv:"sectors_per_track"`
	TracksPerSide      uint   `csv:"tracks_per_side"`
	Sides              uint   `csv:"sides"`
}

// TotalSizeBytes gives the capacity of the medium, which is also the exact
// required size of a device or image file.
func (g DiskGeometry) TotalSizeBytes() int64 {
	return int64(g.BytesPerSector * g.SectorsPerTrack * g.TracksPerSide * g.Sides)
}

// TotalBlocks gives the number of 512-byte blocks the medium holds.
func (g DiskGeometry) TotalBlocks() int64 {
	return g.TotalSizeBytes() / 512
}

// https://en.wikipedia.org/wiki/List_of_floppy_disk_formats
const diskGeometriesRawCSV = `name,slug,first_year_available,form_factor,bytes_per_sector,sectors_per_track,tracks_per_side,sides
"3.5-inch HD",35hd,1987,3.5,512,18,80,2
"3.5-inch DD",35dd,1983,3.5,512,9,80,2
"5.25-inch HD",525hd,1982,5.25,512,15,80,2
"5.25-inch DD",525dd,1978,5.25,512,9,40,2
`

var diskGeometries = map[string]DiskGeometry{}

// GetPredefinedDiskGeometry looks a format up by slug.
func GetPredefinedDiskGeometry(slug string) (DiskGeometry, error) {
	geometry, ok := diskGeometries[slug]
	if ok {
		return geometry, nil
	}
	return DiskGeometry{}, fmt.Errorf("no predefined disk geometry exists with slug %q", slug)
}

// PoolGeometry returns the one format the pool's on-disk layout is built
// around: 2880 blocks of 512 bytes.
func PoolGeometry() DiskGeometry {
	geometry, err := GetPredefinedDiskGeometry("35hd")
	if err != nil {
		panic(err)
	}
	return geometry
}

// ValidateDeviceSize checks that a block device or image file is exactly one
// pool disk big.
func ValidateDeviceSize(size int64) error {
	expected := PoolGeometry().TotalSizeBytes()
	if size != expected {
		return fmt.Errorf("device is %d bytes; a pool disk must be exactly %d", size, expected)
	}
	return nil
}

func init() {
	reader := strings.NewReader(diskGeometriesRawCSV)
	err := gocsv.UnmarshalToCallback(
		reader,
		func(row DiskGeometry) error {
			if _, exists := diskGeometries[row.Slug]; exists {
				return fmt.Errorf("duplicate definition for disk %q", row.Slug)
			}
			diskGeometries[row.Slug] = row
			return nil
		},
	)
	if err != nil && err != io.EOF {
		panic(err)
	}
}
