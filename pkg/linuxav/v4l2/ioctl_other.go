//go:build !linux || !(amd64 || arm64 || arm)

package v4l2

func openDevice(string) (Driver, error) {
	return nil, ErrUnsupportedPlatform
}
