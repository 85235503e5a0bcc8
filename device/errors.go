package device

import "github.com/jangala-dev/inu/errcode"

func errInvalidDeviceID(raw string) error {
	return &errcode.E{C: errcode.InvalidDeviceID, Op: "device.NewID", Msg: "invalid device id: " + raw}
}
