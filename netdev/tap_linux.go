//go:build linux

package netdev

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"unsafe"
)

const safamilyHW6 = 1

type tapDevice struct {
	fd   int
	name string
}

func newTap(name string) (*tapDevice, error) {
	if len(name) >= syscall.IFNAMSIZ {
		return nil, fmt.Errorf("netdev: interface name %q too long", name)
	}
	fd, err := syscall.Open("/dev/net/tun", os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening /dev/net/tun: %w", err)
	}
	ifr := makeifreq(name)
	ifr.setUint16(uint16(syscall.IFF_TAP | syscall.IFF_NO_PI))
	if err := ioctl(fd, syscall.TUNSETIFF, ifr.ptr()); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("TUNSETIFF: %w", err)
	}
	if err := exec.Command("ip", "link", "set", "dev", name, "up").Run(); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("bringing up %s: %w", name, err)
	}
	return &tapDevice{fd: fd, name: name}, nil
}

func (t *tapDevice) Read(b []byte) (int, error)  { return syscall.Read(t.fd, b) }
func (t *tapDevice) Write(b []byte) (int, error) { return syscall.Write(t.fd, b) }
func (t *tapDevice) Close() error                { return syscall.Close(t.fd) }

func (t *tapDevice) HardwareAddress6() ([6]byte, error) {
	sock, err := t.sock()
	if err != nil {
		return [6]byte{}, err
	}
	defer syscall.Close(sock)
	return getSocketHW(sock, t.name)
}

func (t *tapDevice) sock() (int, error) {
	return syscall.Socket(syscall.AF_INET, syscall.SOCK_DGRAM, syscall.IPPROTO_IP)
}

// bridgeDevice attaches to an existing NIC via a raw AF_PACKET socket
// instead of allocating a new TAP, for binding the router directly onto a
// host interface.
type bridgeDevice struct {
	fd    int
	name  string
	index int
}

func newBridge(name string) (*bridgeDevice, error) {
	ifc, err := interfaceByName(name)
	if err != nil {
		return nil, err
	}
	proto := htons(syscall.ETH_P_ALL)
	fd, err := syscall.Socket(syscall.AF_PACKET, syscall.SOCK_RAW, int(proto))
	if err != nil {
		return nil, fmt.Errorf("raw socket: %w", err)
	}
	ll := syscall.SockaddrLinklayer{Protocol: proto, Ifindex: ifc.Index}
	if err := syscall.Bind(fd, &ll); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("binding to %s: %w", name, err)
	}
	return &bridgeDevice{fd: fd, name: ifc.Name, index: ifc.Index}, nil
}

func (b *bridgeDevice) Read(p []byte) (int, error)  { return syscall.Read(b.fd, p) }
func (b *bridgeDevice) Write(p []byte) (int, error) { return syscall.Write(b.fd, p) }
func (b *bridgeDevice) Close() error                { return syscall.Close(b.fd) }

func (b *bridgeDevice) HardwareAddress6() ([6]byte, error) {
	sock, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_DGRAM, syscall.IPPROTO_IP)
	if err != nil {
		return [6]byte{}, err
	}
	defer syscall.Close(sock)
	return getSocketHW(sock, b.name)
}

func htons(v uint16) uint16 { return (v<<8)&0xff00 | v>>8 }

type ifreq struct {
	Name [syscall.IFNAMSIZ]byte
	Data [64]byte
}

func makeifreq(name string) ifreq {
	var ifr ifreq
	copy(ifr.Name[:], name)
	return ifr
}

func (ifr *ifreq) setUint16(v uint16) { *(*uint16)(unsafe.Pointer(&ifr.Data[0])) = v }
func (ifr *ifreq) ptr() unsafe.Pointer { return unsafe.Pointer(ifr) }

func ioctl(fd int, req uintptr, argp unsafe.Pointer) error {
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(fd), req, uintptr(argp))
	if errno != 0 {
		return os.NewSyscallError("ioctl", errno)
	}
	return nil
}

func getSocketHW(sockfd int, ifaceName string) (hw [6]byte, err error) {
	ifr := makeifreq(ifaceName)
	if err := ioctl(sockfd, syscall.SIOCGIFHWADDR, ifr.ptr()); err != nil {
		return hw, err
	}
	family := *(*uint16)(unsafe.Pointer(&ifr.Data[0]))
	if family != safamilyHW6 {
		return hw, fmt.Errorf("netdev: unexpected sa_family %d for %s", family, ifaceName)
	}
	copy(hw[:], ifr.Data[2:8])
	return hw, nil
}
