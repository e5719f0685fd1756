package csma

import "math"

// splitmix64 is a deterministic 64-bit mixer.
func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// u01 returns a deterministic float in [0,1) for (seed, device, frame).
func u01(seed int64, device int, frame uint64) float64 {
	x := uint64(seed)
	x ^= uint64(device)<<48 ^ frame
	y := splitmix64(x)

	// top 53 bits
	v := float64(y>>11) / (1 << 53)
	if v >= 1 {
		return math.Nextafter(1, 0)
	}
	return v
}
