//go:build unix

package datasets

import (
	"math"
	"os"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

// mmapFile maps a finished cache read-only. It only works for files backed by the
// operating system; anything else falls back to buffered reads.
func mmapFile(f afero.File, size int64) (data []byte, unmap func() error, ok bool) {
	osFile, isOS := f.(*os.File)
	if !isOS || size <= 0 || size > math.MaxInt {
		return nil, nil, false
	}
	data, err := unix.Mmap(int(osFile.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		klog.V(1).Infof("bigdata: mmap %s failed, using buffered reads: %v", osFile.Name(), err)
		return nil, nil, false
	}
	return data, func() error { return unix.Munmap(data) }, true
}
