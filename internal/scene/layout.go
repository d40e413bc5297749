// Package scene describes the character scene drawn by the browser page and
// exposes the loaded character as a handle that plays command animations.
package scene

import "math"

const DefaultModelURL = "/models/bunny_robot_r_34.glb"

// Placeholder is drawn until the model finishes loading, and stays when the
// load fails.
type Placeholder struct {
	Radius float64 `json:"radius" yaml:"radius"`
	Color  string  `json:"color" yaml:"color"`
}

// Layout tells the page where and how large to draw the character.
type Layout struct {
	ModelURL    string      `json:"model_url" yaml:"model_url"`
	Position    [3]float64  `json:"position" yaml:"position"`
	RotationY   float64     `json:"rotation_y" yaml:"rotation_y"`
	TargetSize  float64     `json:"target_size" yaml:"target_size"`
	CameraZ     float64     `json:"camera_z" yaml:"camera_z"`
	FieldOfView float64     `json:"fov" yaml:"fov"`
	Placeholder Placeholder `json:"placeholder" yaml:"placeholder"`
}

// DefaultLayout puts the character in the bottom-left corner, turned slightly
// toward the camera.
func DefaultLayout() Layout {
	return Layout{
		ModelURL:    DefaultModelURL,
		Position:    [3]float64{-5, -3.5, 0},
		RotationY:   math.Pi / 6,
		TargetSize:  4.5,
		CameraZ:     5,
		FieldOfView: 75,
		Placeholder: Placeholder{Radius: 0.5, Color: "#ff69b4"},
	}
}

// WithDefaults fills zero fields from DefaultLayout. Position and RotationY
// are taken as given since zero is a valid value for both.
func (l Layout) WithDefaults() Layout {
	def := DefaultLayout()
	if l.ModelURL == "" {
		l.ModelURL = def.ModelURL
	}
	if l.TargetSize <= 0 {
		l.TargetSize = def.TargetSize
	}
	if l.CameraZ == 0 {
		l.CameraZ = def.CameraZ
	}
	if l.FieldOfView <= 0 {
		l.FieldOfView = def.FieldOfView
	}
	if l.Placeholder.Radius <= 0 {
		l.Placeholder.Radius = def.Placeholder.Radius
	}
	if l.Placeholder.Color == "" {
		l.Placeholder.Color = def.Placeholder.Color
	}
	return l
}
