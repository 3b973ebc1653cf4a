// Package inputs renders the input artifacts a simulation run reads from its
// working directory.
package inputs

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"simcontroller/internal/apperrors"
	"simcontroller/internal/simulation"
	"strconv"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Geometry of the powder bed, shared by every run.
const (
	PowderBedLength = 500e-6
	ParticleSpacing = 3e-6
	SubstrateLayer  = 30e-6
	LaserVariance   = 1e-5

	laserEfficiency = 0.2
	outputFrames    = 60
	spreadMargin    = 1.1
)

// ParametersFile is the snapshot of the parameter record written next to the rendered inputs.
const ParametersFile = "parameters.yaml"

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("inputs").Funcs(template.FuncMap{
	"sci": func(v float64) string { return strconv.FormatFloat(v, 'e', 6, 64) },
	"neg": func(v float64) float64 { return -v },
}).ParseFS(templateFS, "templates/*.tmpl"))

// artifacts maps template names to the files they render.
var artifacts = []struct {
	template string
	file     string
}{
	{"simulation.conf.tmpl", "simulation.conf"},
	{"sph.conf.tmpl", "sph.conf"},
	{"sphMaterialProperties.csv.tmpl", "sphMaterialProperties.csv"},
	{"laser.dat.tmpl", "laser.dat"},
	{"surfaceTension.dat.tmpl", "surfaceTension.dat"},
}

// Derived holds the quantities computed from a parameter record.
type Derived struct {
	SimulationTime      float64
	OutputInterval      float64
	SpreadX             float64
	SpreadZ             float64
	ParticleSpacing     float64
	LaserPower          float64
	LaserVariance       float64
	LaserTravelDistance float64
}

// Derive computes the quantities the input templates need.
func Derive(p simulation.Parameters) Derived {
	simulationTime := PowderBedLength / p.LaserSpeed
	return Derived{
		SimulationTime:  simulationTime,
		OutputInterval:  simulationTime / outputFrames,
		SpreadX:         PowderBedLength + 6*ParticleSpacing,
		SpreadZ:         (SubstrateLayer + p.PowderLayerHeight + 3*p.SphereDiameter) * spreadMargin,
		ParticleSpacing: ParticleSpacing,
		LaserPower:      p.LaserPower * laserEfficiency,
		LaserVariance:   LaserVariance,
		// Shortened by the laser's standard deviation on both ends.
		LaserTravelDistance: (PowderBedLength - 4*LaserVariance) / 2,
	}
}

// TemplatePreparer writes the rendered input artifacts into <dir>/input.
type TemplatePreparer struct{}

// NewTemplatePreparer creates a preparer backed by the embedded templates.
func NewTemplatePreparer() *TemplatePreparer {
	return &TemplatePreparer{}
}

// Prepare renders every artifact for params into dir's input directory.
func (p *TemplatePreparer) Prepare(ctx context.Context, dir string, params simulation.Parameters) error {
	inputDir := filepath.Join(dir, simulation.InputDir)
	if err := os.MkdirAll(inputDir, 0o755); err != nil {
		return apperrors.Preparation("inputs.mkdir", err)
	}

	derived := Derive(params)
	for _, a := range artifacts {
		if err := ctx.Err(); err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := templates.ExecuteTemplate(&buf, a.template, derived); err != nil {
			return apperrors.Preparation("inputs.render", fmt.Errorf("%s: %w", a.file, err))
		}
		if err := os.WriteFile(filepath.Join(inputDir, a.file), buf.Bytes(), 0o644); err != nil {
			return apperrors.Preparation("inputs.write", err)
		}
	}

	snapshot, err := yaml.Marshal(params)
	if err != nil {
		return apperrors.Preparation("inputs.snapshot", err)
	}
	if err := os.WriteFile(filepath.Join(inputDir, ParametersFile), snapshot, 0o644); err != nil {
		return apperrors.Preparation("inputs.write", err)
	}
	return nil
}
