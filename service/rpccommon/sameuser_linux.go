//go:build linux

package rpccommon

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// for testing
var (
	uid      = os.Getuid()
	readFile = os.ReadFile
)

var errConnectionNotFound = errors.New("connection not found")

// connUID looks up the owner of the connection whose local address is
// hexaddr in a /proc/net/tcp style table.
func connUID(filename, hexaddr string) (int, error) {
	b, err := readFile(filename)
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		var (
			sl                    int
			localAddr, remoteAddr string
			state                 int
			queue, timer          string
			retransmit            int
			owner                 uint
		)
		// the kernel pads with %4d and %5u, Sscanf copes with both
		n, err := fmt.Sscanf(line, "%4d: %s %s %02X %s %s %08X %d",
			&sl, &localAddr, &remoteAddr, &state, &queue, &timer, &retransmit, &owner)
		if n != 8 || err != nil || localAddr != hexaddr {
			continue
		}
		return int(owner), nil
	}
	return 0, fmt.Errorf("%w in %s", errConnectionNotFound, filename)
}

func sameUserForRemoteAddr4(remoteAddr *net.TCPAddr) (bool, error) {
	b := remoteAddr.IP.To4()
	hexaddr := fmt.Sprintf("%02X%02X%02X%02X:%04X", b[3], b[2], b[1], b[0], remoteAddr.Port)
	owner, err := connUID("/proc/net/tcp", hexaddr)
	if errors.Is(err, errConnectionNotFound) {
		// IPv4 connections to a dual stack listener are listed as mapped
		// IPv6 addresses
		if owner6, err6 := connUID("/proc/net/tcp6", "0000000000000000FFFF0000"+hexaddr); err6 == nil {
			return owner6 == uid, nil
		}
	}
	if err != nil {
		return false, err
	}
	return owner == uid, nil
}

func sameUserForRemoteAddr6(remoteAddr *net.TCPAddr) (bool, error) {
	words := make([]uint32, 4)
	if err := binary.Read(bytes.NewReader(remoteAddr.IP.To16()), binary.LittleEndian, words); err != nil {
		return false, err
	}
	hexaddr := fmt.Sprintf("%08X%08X%08X%08X:%04X", words[0], words[1], words[2], words[3], remoteAddr.Port)
	owner, err := connUID("/proc/net/tcp6", hexaddr)
	if err != nil {
		return false, err
	}
	return owner == uid, nil
}

func sameUserForRemoteAddr(remoteAddr *net.TCPAddr) (bool, error) {
	if remoteAddr.IP.To4() == nil {
		return sameUserForRemoteAddr6(remoteAddr)
	}
	return sameUserForRemoteAddr4(remoteAddr)
}

// canAccept returns false for connections to a loopback listener made by
// a different user.
func canAccept(listenAddr, remoteAddr net.Addr) bool {
	laddr, ok := listenAddr.(*net.TCPAddr)
	if !ok || !laddr.IP.IsLoopback() {
		return true
	}
	addr, ok := remoteAddr.(*net.TCPAddr)
	if !ok {
		return false
	}
	same, err := sameUserForRemoteAddr(addr)
	if err != nil {
		rpcLog().Warnf("cannot check remote address: %v", err)
	}
	if !same {
		rpcLog().Errorf("closing connection from different user (%v): connections to localhost are only accepted from the same UNIX user", addr)
		return false
	}
	return true
}
