package dalekbridge

// ParameterNames lists the fitness function's arguments in call order: eleven
// element mass fractions, then the requested luminosity (erg/s) and the
// photospheric start velocity (km/s).
var ParameterNames = []string{
	"O", "Si", "S", "Ca", "Fe", "Co", "Ni", "Mg", "Ti", "Cr", "C",
	"luminosity_requested", "velocity_start",
}

// ReferenceTheta is a known-good parameter vector for smoke tests.
func ReferenceTheta() []float64 {
	return []float64{
		0.001574, 0.575, 0.115, 0.013333, 0.02, 0.023609, 0.03208, 0.2,
		0.00016, 0.0008, 0.0005, 1.3265352399286673e+43, 10050.0,
	}
}
