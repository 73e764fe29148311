//go:build linux

package can

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"
	"time"
	"unsafe"
)

// socketCAN implements Bus over Linux SocketCAN using raw syscalls only.
type socketCAN struct {
	fd     int
	file   *os.File
	closed chan struct{}
}

const (
	afCAN        = 29
	canRAW       = 1
	solCANRaw    = 101
	canRawFilter = 1
)

// DialSocketCAN opens a raw CAN socket bound to the given interface name
// (e.g., "can0"). Any acceptance filters are programmed into the kernel's
// receive path, mirroring what a controller's hardware filter bank would do;
// a node normally installs its own destination filter plus the multicast one.
func DialSocketCAN(iface string, filters ...AcceptanceFilter) (Bus, error) {
	fd, err := syscall.Socket(afCAN, syscall.SOCK_RAW, canRAW)
	if err != nil {
		return nil, err
	}

	netIf, err := net.InterfaceByName(iface)
	if err != nil {
		syscall.Close(fd)
		return nil, err
	}

	if len(filters) > 0 {
		if err := setRawFilters(fd, filters); err != nil {
			syscall.Close(fd)
			return nil, err
		}
	}

	// Bind to interface.
	// struct sockaddr_can { sa_family_t can_family; int can_ifindex; union { ... } addr; };
	// We provide a compatible memory layout via unsafe and call bind(2) directly.
	type sockaddrCAN struct {
		Family  uint16
		_pad    uint16
		Ifindex int32
		Addr    [8]byte
	}
	sa := sockaddrCAN{Family: afCAN, Ifindex: int32(netIf.Index)}
	_, _, e := syscall.Syscall(syscall.SYS_BIND, uintptr(fd), uintptr(unsafe.Pointer(&sa)), unsafe.Sizeof(sa))
	if e != 0 {
		syscall.Close(fd)
		return nil, e
	}

	// Non-blocking mode for context-aware operations.
	if err := syscall.SetNonblock(fd, true); err != nil {
		syscall.Close(fd)
		return nil, err
	}

	f := os.NewFile(uintptr(fd), "socketcan")
	return &socketCAN{fd: fd, file: f, closed: make(chan struct{})}, nil
}

// setRawFilters programs CAN_RAW_FILTER with the given filter/mask pairs.
// Extended-frame matching requires the EFF flag in both id and mask.
func setRawFilters(fd int, filters []AcceptanceFilter) error {
	type canFilter struct {
		ID   uint32
		Mask uint32
	}
	kf := make([]canFilter, len(filters))
	for i, f := range filters {
		kf[i] = canFilter{
			ID:   (f.Filter & canEffMask) | canEffFlag,
			Mask: (f.Mask & canEffMask) | canEffFlag,
		}
	}
	_, _, e := syscall.Syscall6(syscall.SYS_SETSOCKOPT,
		uintptr(fd), solCANRaw, canRawFilter,
		uintptr(unsafe.Pointer(&kf[0])),
		unsafe.Sizeof(kf[0])*uintptr(len(kf)), 0)
	if e != 0 {
		return e
	}
	return nil
}

func (s *socketCAN) Close() error {
	select {
	case <-s.closed:
		return nil
	default:
	}
	close(s.closed)
	// Closing file also closes the fd.
	return s.file.Close()
}

// Send writes one frame using the Linux can_frame binary layout.
func (s *socketCAN) Send(ctx context.Context, frame Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	buf, err := frame.MarshalBinary()
	if err != nil {
		return err
	}
	for {
		n, werr := syscall.Write(s.fd, buf)
		if werr == nil {
			if n != len(buf) {
				return errors.New("can: short write")
			}
			return nil
		}
		if werr == syscall.EAGAIN || werr == syscall.EWOULDBLOCK {
			if err := s.waitWritable(ctx); err != nil {
				return err
			}
			continue
		}
		return werr
	}
}

// Receive reads one frame (blocking respecting context).
func (s *socketCAN) Receive(ctx context.Context) (Frame, error) {
	var f Frame
	buf := make([]byte, 16)
	for {
		n, rerr := syscall.Read(s.fd, buf)
		if rerr == nil {
			if n != len(buf) {
				return Frame{}, errors.New("can: short read")
			}
			if err := f.UnmarshalBinary(buf); err != nil {
				return Frame{}, err
			}
			return f, nil
		}
		if rerr == syscall.EAGAIN || rerr == syscall.EWOULDBLOCK {
			if err := s.waitReadable(ctx); err != nil {
				return Frame{}, err
			}
			continue
		}
		return Frame{}, rerr
	}
}

func (s *socketCAN) waitReadable(ctx context.Context) error {
	return s.wait(ctx, true, false)
}

func (s *socketCAN) waitWritable(ctx context.Context) error {
	return s.wait(ctx, false, true)
}

func (s *socketCAN) wait(ctx context.Context, r, w bool) error {
	// Select with a timeout derived from the context; short backoff otherwise
	// to avoid a busy loop without a deadline.
	for {
		var timeout *syscall.Timeval
		if deadline, ok := ctx.Deadline(); ok {
			d := time.Until(deadline)
			if d <= 0 {
				return ctx.Err()
			}
			timeout = &syscall.Timeval{Sec: int64(d / time.Second), Usec: int64((d % time.Second) / time.Microsecond)}
		} else {
			timeout = &syscall.Timeval{Sec: 0, Usec: 50_000}
		}

		var readfds, writefds syscall.FdSet
		if r {
			fdSetAdd(&readfds, s.fd)
		}
		if w {
			fdSetAdd(&writefds, s.fd)
		}
		nfds := s.fd + 1
		_, err := syscall.Select(nfds, &readfds, &writefds, nil, timeout)
		if err == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return nil
			}
		}
		if err == syscall.EINTR {
			continue
		}
		return err
	}
}

// Helper for FD sets since x/sys is not used.
func fdSetAdd(set *syscall.FdSet, fd int) {
	set.Bits[fd/64] |= int64(1) << (uint(fd) % 64)
}
