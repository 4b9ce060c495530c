//go:build !govips || !cgo

package probe

func Startup() error {
	return nil
}

func Shutdown() {}

func native() Prober {
	return Config{}
}
