//go:build cuda

package upscale

import "gocv.io/x/gocv/cuda"

// cudaDeviceCount needs OpenCV built with CUDA; build with -tags cuda
func cudaDeviceCount() int {
	return cuda.GetCudaEnabledDeviceCount()
}
