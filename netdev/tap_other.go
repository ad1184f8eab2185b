//go:build !linux

package netdev

import "errors"

type tapDevice struct{}

func newTap(name string) (*tapDevice, error) { return nil, errors.ErrUnsupported }

func (t *tapDevice) Read(b []byte) (int, error)         { return 0, errors.ErrUnsupported }
func (t *tapDevice) Write(b []byte) (int, error)        { return 0, errors.ErrUnsupported }
func (t *tapDevice) Close() error                       { return errors.ErrUnsupported }
func (t *tapDevice) HardwareAddress6() ([6]byte, error) { return [6]byte{}, errors.ErrUnsupported }

type bridgeDevice struct{}

func newBridge(name string) (*bridgeDevice, error) { return nil, errors.ErrUnsupported }

func (b *bridgeDevice) Read(p []byte) (int, error)      { return 0, errors.ErrUnsupported }
func (b *bridgeDevice) Write(p []byte) (int, error)     { return 0, errors.ErrUnsupported }
func (b *bridgeDevice) Close() error                    { return errors.ErrUnsupported }
func (b *bridgeDevice) HardwareAddress6() ([6]byte, error) { return [6]byte{}, errors.ErrUnsupported }
