// Package temperature provides small typed units shared by the
// calibration and channel packages so a bare float64 is never ambiguous
// about its scale.
package temperature

type (
	// Celsius is a temperature in degrees Celsius, the only temperature
	// unit the station's command surface and persisted config speak.
	Celsius float64

	// Microvolts is a thermocouple EMF reading.
	Microvolts float64
)

// C2K converts a temperature in Celsius to Kelvin. The station never
// surfaces Kelvin to an operator.
func C2K(c Celsius) float64 {
	return float64(c) + 273.15
}

// K2C converts a temperature in Kelvin to Celsius.
func K2C(k float64) Celsius {
	return Celsius(k - 273.15)
}
