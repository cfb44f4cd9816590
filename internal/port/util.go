package port

import "fmt"

// recomputeSize derives TPacket ring geometry from a memory budget.
// AF_PACKET requires the frame size to be 16-byte aligned, the block size to
// be a multiple of both the page size and the frame size, and the total ring
// (blockSize * numBlocks) to stay near the requested budget.
func recomputeSize(ringSizeMB, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	const tpacketAlignment = 16
	const tpacketHdrLen = 52

	if ringSizeMB <= 0 {
		return 0, 0, 0, fmt.Errorf("ring size must be positive, got %d MB", ringSizeMB)
	}
	if snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("snap length must be positive, got %d", snapLen)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return 0, 0, 0, fmt.Errorf("page size must be a positive multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	targetBytes := ringSizeMB * 1024 * 1024

	rawFrame := tpacketHdrLen + snapLen
	frameSize = ((rawFrame + tpacketAlignment - 1) / tpacketAlignment) * tpacketAlignment

	// The smallest size satisfying both alignment constraints; every
	// multiple of it would work too, one period keeps blocks small.
	blockSize = lcm(pageSize, frameSize)

	numBlocks = targetBytes / blockSize
	if numBlocks < 1 {
		numBlocks = 1
	}
	return frameSize, blockSize, numBlocks, nil
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return a * b / gcd(a, b)
}
