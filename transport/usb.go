package transport

import (
	"github.com/google/gousb"
)

// USBConn wraps a gousb bulk in/out endpoint pair as a ReadWriteCloser,
// grounded on the vendor/product-ID device-opening pattern used
// elsewhere in this codebase's USB instrument layer, simplified here to
// the single bulk pipe the command surface's USB leg needs (no
// USBTMC-style bulk header framing: the command surface already frames
// its own lines with "\n").
type USBConn struct {
	ctx    *gousb.Context
	device *gousb.Device
	iface  *gousb.Interface
	in     *gousb.InEndpoint
	out    *gousb.OutEndpoint
	closer func()
}

// OpenUSB opens the device identified by vid/pid and binds the given
// bulk endpoint numbers for the command surface's line traffic.
func OpenUSB(vid, pid uint16, inEndpoint, outEndpoint int) (*USBConn, error) {
	ctx := gousb.NewContext()
	device, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		ctx.Close()
		return nil, err
	}
	if err := device.SetAutoDetach(true); err != nil {
		device.Close()
		ctx.Close()
		return nil, err
	}
	iface, closer, err := device.DefaultInterface()
	if err != nil {
		device.Close()
		ctx.Close()
		return nil, err
	}
	in, err := iface.InEndpoint(inEndpoint)
	if err != nil {
		closer()
		device.Close()
		ctx.Close()
		return nil, err
	}
	out, err := iface.OutEndpoint(outEndpoint)
	if err != nil {
		closer()
		device.Close()
		ctx.Close()
		return nil, err
	}
	return &USBConn{ctx: ctx, device: device, iface: iface, in: in, out: out, closer: closer}, nil
}

// Read satisfies io.Reader by pulling from the bound bulk IN endpoint.
func (u *USBConn) Read(p []byte) (int, error) { return u.in.Read(p) }

// Write satisfies io.Writer by pushing to the bound bulk OUT endpoint.
func (u *USBConn) Write(p []byte) (int, error) { return u.out.Write(p) }

// Close releases the interface, device, and USB context.
func (u *USBConn) Close() error {
	u.closer()
	u.device.Close()
	return u.ctx.Close()
}

// NewUSBPort opens a USB command-surface connection and wraps it in a
// Port framed on USBTerminator.
func NewUSBPort(vid, pid uint16, inEndpoint, outEndpoint int) (*Port, error) {
	conn, err := OpenUSB(vid, pid, inEndpoint, outEndpoint)
	if err != nil {
		return nil, err
	}
	return NewPort(conn, USBTerminator, 0), nil
}
