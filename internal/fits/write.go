package fits

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
)

// WriteFile writes img as a single-HDU FITS file with BITPIX -32.
func WriteFile(path string, img *Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, img); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}

// Write writes img to w as a primary HDU.
func Write(w io.Writer, img *Image) error {
	if len(img.Data) != img.Width*img.Height {
		return fmt.Errorf("data length %d does not match %dx%d", len(img.Data), img.Width, img.Height)
	}
	bw := bufio.NewWriter(w)
	n, err := writeHeader(bw, img)
	if err != nil {
		return err
	}
	if err := padBlock(bw, n); err != nil {
		return err
	}

	var buf [4]byte
	written := 0
	for _, v := range img.Data {
		binary.BigEndian.PutUint32(buf[:], math.Float32bits(v))
		if _, err := bw.Write(buf[:]); err != nil {
			return err
		}
		written += 4
	}
	if err := padBlockZero(bw, written); err != nil {
		return err
	}
	return bw.Flush()
}

// WriteMEF writes a multi-extension file: a header-only primary HDU
// followed by one IMAGE extension per image, named by Image.Name.
func WriteMEF(path string, primary *Header, images ...*Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)

	n, err := writeCards(bw, []string{
		formatCard(Card{Key: "SIMPLE", Value: "T", Comment: "conforms to FITS standard"}),
		formatCard(Card{Key: "BITPIX", Value: "8"}),
		formatCard(Card{Key: "NAXIS", Value: "0"}),
		formatCard(Card{Key: "EXTEND", Value: "T"}),
	}, primary)
	if err == nil {
		err = padBlock(bw, n)
	}

	for _, img := range images {
		if err != nil {
			break
		}
		if len(img.Data) != img.Width*img.Height {
			err = fmt.Errorf("%s: data length %d does not match %dx%d", img.Name, len(img.Data), img.Width, img.Height)
			break
		}
		hdr := img.Header
		if img.Name != "" {
			hdr = cloneHeader(hdr)
			hdr.SetStr("EXTNAME", img.Name, "")
		}
		n, err = writeCards(bw, []string{
			formatCard(Card{Key: "XTENSION", Value: "IMAGE", IsStr: true, Comment: "image extension"}),
			formatCard(Card{Key: "BITPIX", Value: "-32", Comment: "IEEE single precision"}),
			formatCard(Card{Key: "NAXIS", Value: "2"}),
			formatCard(Card{Key: "NAXIS1", Value: fmt.Sprint(img.Width)}),
			formatCard(Card{Key: "NAXIS2", Value: fmt.Sprint(img.Height)}),
			formatCard(Card{Key: "PCOUNT", Value: "0"}),
			formatCard(Card{Key: "GCOUNT", Value: "1"}),
		}, hdr)
		if err == nil {
			err = padBlock(bw, n)
		}
		if err == nil {
			err = writePixels(bw, img.Data)
		}
	}

	if err == nil {
		err = bw.Flush()
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}

func cloneHeader(h *Header) *Header {
	out := NewHeader()
	if h != nil {
		out.Merge(h)
	}
	return out
}

func writePixels(w io.Writer, data []float32) error {
	var buf [4]byte
	written := 0
	for _, v := range data {
		binary.BigEndian.PutUint32(buf[:], math.Float32bits(v))
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
		written += 4
	}
	return padBlockZero(w, written)
}

// writeCards emits the structural cards, then the non-structural cards
// of hdr, then END. Returns the byte count written.
func writeCards(w io.Writer, structural []string, hdr *Header) (int, error) {
	n := 0
	emit := func(card string) error {
		if len(card) > cardSize {
			card = card[:cardSize]
		}
		if _, err := io.WriteString(w, card+strings.Repeat(" ", cardSize-len(card))); err != nil {
			return err
		}
		n += cardSize
		return nil
	}

	for _, c := range structural {
		if err := emit(c); err != nil {
			return n, err
		}
	}
	if hdr != nil {
		for _, c := range hdr.Cards() {
			if isStructural(c.Key) || c.Key == "BZERO" || c.Key == "BSCALE" {
				continue
			}
			if err := emit(formatCard(c)); err != nil {
				return n, err
			}
		}
	}
	if err := emit("END"); err != nil {
		return n, err
	}
	return n, nil
}

func writeHeader(w io.Writer, img *Image) (int, error) {
	return writeCards(w, []string{
		formatCard(Card{Key: "SIMPLE", Value: "T", Comment: "conforms to FITS standard"}),
		formatCard(Card{Key: "BITPIX", Value: "-32", Comment: "IEEE single precision"}),
		formatCard(Card{Key: "NAXIS", Value: "2"}),
		formatCard(Card{Key: "NAXIS1", Value: fmt.Sprint(img.Width)}),
		formatCard(Card{Key: "NAXIS2", Value: fmt.Sprint(img.Height)}),
	}, img.Header)
}

func formatCard(c Card) string {
	key := c.Key
	if len(key) > 8 {
		key = key[:8]
	}
	var value string
	if c.IsStr {
		v := strings.ReplaceAll(c.Value, "'", "''")
		value = fmt.Sprintf("'%s'", v)
		if len(value) < 10 {
			// minimum 8-char string field keeps fixed layout
			value += strings.Repeat(" ", 10-len(value))
		}
	} else {
		value = fmt.Sprintf("%20s", c.Value)
	}
	card := fmt.Sprintf("%-8s= %s", key, value)
	if c.Comment != "" {
		card += " / " + c.Comment
	}
	return card
}

func padBlock(w io.Writer, written int) error {
	if rem := written % blockSize; rem != 0 {
		_, err := io.WriteString(w, strings.Repeat(" ", blockSize-rem))
		return err
	}
	return nil
}

func padBlockZero(w io.Writer, written int) error {
	if rem := written % blockSize; rem != 0 {
		_, err := w.Write(make([]byte, blockSize-rem))
		return err
	}
	return nil
}
