// Package geometry converts ultrasonic sensor distances into liquid volumes.
//
// The sensor is mounted at the top of the tank and measures the distance to
// the liquid surface, so the liquid height is HeightCm minus the distance.
// Upright cylinders use the closed form pi*r^2*h; other shapes use a
// calibrated height to liters table interpolated with a monotone
// Fritsch-Butland cubic so that more liquid never maps to less volume.
package geometry
