//go:build !cuda

package upscale

func cudaDeviceCount() int {
	return 0
}
