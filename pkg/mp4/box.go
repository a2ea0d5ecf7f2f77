package mp4

import (
	amp4 "github.com/abema/go-mp4"
)

// boxWriter marshals nested boxes; sizes are patched by amp4.Writer on end.
type boxWriter struct {
	w *amp4.Writer
}

func (b *boxWriter) start(box amp4.IImmutableBox) error {
	if _, err := b.w.StartBox(&amp4.BoxInfo{Type: box.GetType()}); err != nil {
		return err
	}
	_, err := amp4.Marshal(b.w, box, amp4.Context{})
	return err
}

func (b *boxWriter) end() error {
	_, err := b.w.EndBox()
	return err
}

func (b *boxWriter) box(box amp4.IImmutableBox) error {
	if err := b.start(box); err != nil {
		return err
	}
	return b.end()
}

// Display matrices for tkhd, 16.16 fixed point with a 2.30 last column.
var (
	IdentityMatrix = [9]int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}
	Rotate90Matrix = [9]int32{0, 0x00010000, 0, -0x00010000, 0, 0, 0, 0, 0x40000000}
)

// RotationMatrix returns the display matrix rotating the frame clockwise by
// degrees. Only multiples of 90 are supported; anything else is identity.
func RotationMatrix(degrees int) [9]int32 {
	switch ((degrees % 360) + 360) % 360 {
	case 90:
		return Rotate90Matrix
	case 180:
		return [9]int32{-0x00010000, 0, 0, 0, -0x00010000, 0, 0, 0, 0x40000000}
	case 270:
		return [9]int32{0, -0x00010000, 0, 0x00010000, 0, 0, 0, 0, 0x40000000}
	default:
		return IdentityMatrix
	}
}
