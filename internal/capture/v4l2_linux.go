//go:build linux

package capture

import (
	"bytes"
	"fmt"
	"strings"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/rs/zerolog"
)

// V4L2 wire structs and ioctl numbers, grounded on
// svanichkin-gocam/capture_linux.go and thinkski-frameserver/main.go.
// Computed via unsafe.Sizeof rather than hardcoded magic numbers so
// the encoded size matches this process's actual struct layout.

const (
	v4l2BufTypeVideoCapture = 1
	v4l2FieldNone           = 1
	v4l2FieldAny            = 0
	v4l2MemoryMMap          = 1

	v4l2CapVideoCapture = 0x00000001
	v4l2CapStreaming    = 0x04000000
	v4l2CapDeviceCaps   = 0x80000000

	v4l2PixFmtMJPEG = 0x47504A4D // 'MJPG'
	v4l2PixFmtYUYV  = 0x56595559 // 'YUYV'
)

type v4l2Capability struct {
	Driver       [16]byte
	Card         [32]byte
	BusInfo      [32]byte
	Version      uint32
	Capabilities uint32
	DeviceCaps   uint32
	Reserved     [3]uint32
}

type v4l2PixFormat struct {
	Width        uint32
	Height       uint32
	Pixelformat  uint32
	Field        uint32
	Bytesperline uint32
	Sizeimage    uint32
	Colorspace   uint32
	Priv         uint32
	Flags        uint32
	YcbcrEnc     uint32
	Quantization uint32
	XferFunc     uint32
}

type v4l2Format struct {
	Type uint32
	_    [4]byte // align union to 64-bit boundary, per the real kernel struct
	raw  [200]byte
}

func (f *v4l2Format) pix() *v4l2PixFormat {
	return (*v4l2PixFormat)(unsafe.Pointer(&f.raw[0]))
}

type v4l2RequestBuffers struct {
	Count    uint32
	Type     uint32
	Memory   uint32
	Reserved [2]uint32
}

type v4l2Timecode struct {
	Type     uint32
	Flags    uint32
	Frames   uint8
	Seconds  uint8
	Minutes  uint8
	Hours    uint8
	Userbits [4]uint8
}

type v4l2Buffer struct {
	Index     uint32
	Type      uint32
	Bytesused uint32
	Flags     uint32
	Field     uint32
	Timestamp unix.Timeval
	Timecode  v4l2Timecode
	Sequence  uint32
	Memory    uint32
	Offset    uint32
	_         uint32
	Length    uint32
	Reserved2 uint32
	Reserved  uint32
}

const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14
	iocDirBits  = 2

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	iocNone  = 0
	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return (dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNRShift) | (size << iocSizeShift)
}

func ior(typ, nr, size uintptr) uintptr  { return ioc(iocRead, typ, nr, size) }
func iow(typ, nr, size uintptr) uintptr  { return ioc(iocWrite, typ, nr, size) }
func iowr(typ, nr, size uintptr) uintptr { return ioc(iocRead|iocWrite, typ, nr, size) }

var (
	vidiocQuerycap  = ior(uintptr('V'), 0, unsafe.Sizeof(v4l2Capability{}))
	vidiocSFmt      = iowr(uintptr('V'), 5, unsafe.Sizeof(v4l2Format{}))
	vidiocReqbufs   = iowr(uintptr('V'), 8, unsafe.Sizeof(v4l2RequestBuffers{}))
	vidiocQuerybuf  = iowr(uintptr('V'), 9, unsafe.Sizeof(v4l2Buffer{}))
	vidiocQBuf      = iowr(uintptr('V'), 15, unsafe.Sizeof(v4l2Buffer{}))
	vidiocDQBuf     = iowr(uintptr('V'), 17, unsafe.Sizeof(v4l2Buffer{}))
	vidiocStreamOn  = iow(uintptr('V'), 18, unsafe.Sizeof(uint32(0)))
	vidiocStreamOff = iow(uintptr('V'), 19, unsafe.Sizeof(uint32(0)))
)

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func v4l2CString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// openV4L2 opens the device at path, queries its capability string,
// and returns either a streaming or snapshot Source depending on
// whether the string carries a thumbnail/snapshot marker (spec.md
// §4.A's selection policy).
func openV4L2(path string, log zerolog.Logger) (Source, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("capture: open %s: %w", path, err)
	}

	var caps v4l2Capability
	if err := ioctl(fd, vidiocQuerycap, unsafe.Pointer(&caps)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("capture: VIDIOC_QUERYCAP %s: %w", path, err)
	}

	capBits := caps.Capabilities
	if capBits&v4l2CapDeviceCaps != 0 {
		capBits = caps.DeviceCaps
	}
	if capBits&v4l2CapVideoCapture == 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("capture: %s does not support video capture", path)
	}

	descriptor := strings.ToLower(v4l2CString(caps.Driver[:]) + " " + v4l2CString(caps.Card[:]) + " " + v4l2CString(caps.BusInfo[:]))
	if strings.Contains(descriptor, "thumbnail") || strings.Contains(descriptor, "snapshot") {
		log.Info().Str("path", path).Msg("capture: v4l2 snapshot device detected")
		return &v4l2SnapshotSource{fd: fd, path: path, log: log}, nil
	}

	log.Info().Str("path", path).Msg("capture: v4l2 streaming device detected")
	return &v4l2StreamingSource{fd: fd, path: path, log: log}, nil
}

// negotiateFormat tries MJPEG 1920x1080 first, then falls back to
// YUYV 1920x1080, per spec.md §4.A.1.
func negotiateFormat(fd int) (pixfmt uint32, width, height, bytesPerLine uint32, err error) {
	for _, candidate := range []uint32{v4l2PixFmtMJPEG, v4l2PixFmtYUYV} {
		format := v4l2Format{Type: v4l2BufTypeVideoCapture}
		pix := format.pix()
		pix.Width, pix.Height = 1920, 1080
		pix.Pixelformat = candidate
		pix.Field = v4l2FieldNone

		if err := ioctl(fd, vidiocSFmt, unsafe.Pointer(&format)); err != nil {
			continue
		}
		if pix.Pixelformat == candidate {
			return pix.Pixelformat, pix.Width, pix.Height, pix.Bytesperline, nil
		}
	}
	return 0, 0, 0, 0, fmt.Errorf("capture: device accepted neither MJPEG nor YUYV at 1920x1080")
}

func requestMmapBuffers(fd int, count uint32) (uint32, error) {
	req := v4l2RequestBuffers{Count: count, Type: v4l2BufTypeVideoCapture, Memory: v4l2MemoryMMap}
	if err := ioctl(fd, vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		return 0, fmt.Errorf("VIDIOC_REQBUFS: %w", err)
	}
	return req.Count, nil
}

func mmapBuffer(fd int, index uint32) ([]byte, error) {
	buf := v4l2Buffer{Type: v4l2BufTypeVideoCapture, Memory: v4l2MemoryMMap, Index: index}
	if err := ioctl(fd, vidiocQuerybuf, unsafe.Pointer(&buf)); err != nil {
		return nil, fmt.Errorf("VIDIOC_QUERYBUF: %w", err)
	}
	data, err := unix.Mmap(fd, int64(buf.Offset), int(buf.Length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return data, nil
}

func queueBuffer(fd int, index uint32) error {
	buf := v4l2Buffer{Type: v4l2BufTypeVideoCapture, Memory: v4l2MemoryMMap, Index: index}
	if err := ioctl(fd, vidiocQBuf, unsafe.Pointer(&buf)); err != nil {
		return fmt.Errorf("VIDIOC_QBUF: %w", err)
	}
	return nil
}

func dequeueBuffer(fd int) (index, bytesUsed uint32, err error) {
	var buf v4l2Buffer
	buf.Type = v4l2BufTypeVideoCapture
	buf.Memory = v4l2MemoryMMap
	if err := ioctl(fd, vidiocDQBuf, unsafe.Pointer(&buf)); err != nil {
		return 0, 0, fmt.Errorf("VIDIOC_DQBUF: %w", err)
	}
	return buf.Index, buf.Bytesused, nil
}

func streamOn(fd int) error {
	typ := uint32(v4l2BufTypeVideoCapture)
	if err := ioctl(fd, vidiocStreamOn, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("VIDIOC_STREAMON: %w", err)
	}
	return nil
}

func streamOff(fd int) error {
	typ := uint32(v4l2BufTypeVideoCapture)
	if err := ioctl(fd, vidiocStreamOff, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("VIDIOC_STREAMOFF: %w", err)
	}
	return nil
}

const (
	v4l2StreamBuffers  = 4
	v4l2StreamRetry    = 100 * time.Millisecond
	v4l2SnapshotPeriod = 500 * time.Millisecond // <= 2 Hz
)
