package rigol

import (
	"bytes"

	"github.com/pkg/errors"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

// Screenshot returns the display as a PNG image
func (s *Scope) Screenshot() ([]byte, error) {
	var img []byte
	err := s.locked(func(l link) error {
		blk, err := l.queryBlock(Query(":DISPlay:DATA", "ON", 0, "PNG"))
		if err != nil {
			return err
		}
		if !bytes.HasPrefix(blk.Data, pngMagic) {
			return errors.New("rigol: screenshot payload is not a PNG")
		}
		img = blk.Data
		return nil
	})
	return img, err
}
