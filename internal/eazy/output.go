package eazy

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// SEDPoint is one wavelength sample of a spectral energy distribution,
// wavelength in Angstrom and flux in the catalog units.
type SEDPoint struct {
	Lambda float64
	Flux   float64
	Err    float64
}

// PZPoint is one sample of the redshift probability curve.
type PZPoint struct {
	Z float64
	P float64
}

// ObjectResult gathers the three per-object EAZY output files.
type ObjectResult struct {
	ID     int
	ZBest  string // "z=..." from the template header
	ZPrior string // "z_prior=..." from the template header

	Observed []SEDPoint // flux_cat with err_cat per filter
	Template []SEDPoint // best-fit template curve
	PZ       []PZPoint
}

// ReadObject loads photz_<id>.obs_sed, .temp_sed and .pz from the EAZY
// output directory. mainOutput is the MAIN_OUTPUT_FILE prefix.
func ReadObject(outputDir, mainOutput string, id int) (*ObjectResult, error) {
	base := filepath.Join(outputDir, fmt.Sprintf("%s_%d", mainOutput, id))
	res := &ObjectResult{ID: id}

	obs, _, err := readColumns(base + ".obs_sed")
	if err != nil {
		return nil, err
	}
	for _, row := range obs {
		if len(row) < 3 {
			return nil, fmt.Errorf("%s.obs_sed: short row", base)
		}
		res.Observed = append(res.Observed, SEDPoint{Lambda: row[0], Flux: row[1], Err: row[2]})
	}

	temp, comments, err := readColumns(base + ".temp_sed")
	if err != nil {
		return nil, err
	}
	for _, row := range temp {
		if len(row) < 2 {
			return nil, fmt.Errorf("%s.temp_sed: short row", base)
		}
		res.Template = append(res.Template, SEDPoint{Lambda: row[0], Flux: row[1]})
	}
	res.ZBest = headerToken(comments, "z=")
	res.ZPrior = headerToken(comments, "z_prior=")

	pz, _, err := readColumns(base + ".pz")
	if err != nil {
		return nil, err
	}
	for _, row := range pz {
		if len(row) < 2 {
			return nil, fmt.Errorf("%s.pz: short row", base)
		}
		res.PZ = append(res.PZ, PZPoint{Z: row[0], P: row[1]})
	}

	return res, nil
}

// readColumns parses a whitespace-separated numeric table, returning
// the data rows and the comment lines.
func readColumns(path string) ([][]float64, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	var rows [][]float64
	var comments []string
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if strings.HasPrefix(text, "#") {
			comments = append(comments, text)
			continue
		}
		fields := strings.Fields(text)
		row := make([]float64, len(fields))
		for i, field := range fields {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("%s:%d: %w", path, line, err)
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	return rows, comments, nil
}

// headerToken finds "prefix<value>" in the comment lines. The value may
// be separated from the prefix by whitespace.
func headerToken(comments []string, prefix string) string {
	for _, line := range comments {
		fields := strings.Fields(strings.TrimLeft(line, "# "))
		for i, f := range fields {
			if !strings.HasPrefix(f, prefix) {
				continue
			}
			if f == prefix && i+1 < len(fields) {
				return prefix + fields[i+1]
			}
			return f
		}
	}
	return ""
}
