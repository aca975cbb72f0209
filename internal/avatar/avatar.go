// Package avatar turns a measurement set into a parametric body proxy: a
// fixed skeleton of spheres and cylinders a renderer can draw directly.
package avatar

import (
	"math"

	"github.com/example/measulor/internal/measurement"
)

// Scale converts centimeters into scene units.
const Scale = 0.01

// Shape is the primitive solid type.
type Shape string

const (
	Sphere   Shape = "sphere"
	Cylinder Shape = "cylinder"
)

// Material names the surface a primitive is drawn with.
type Material string

const (
	Skin  Material = "skin"
	Joint Material = "joint"
)

// Vec3 is a position or an Euler rotation in radians.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Primitive is one solid of the avatar. Spheres use Radius; cylinders use
// RadiusTop, RadiusBottom and Height.
type Primitive struct {
	Name         string   `json:"name"`
	Shape        Shape    `json:"shape"`
	Material     Material `json:"material"`
	Position     Vec3     `json:"position"`
	Rotation     Vec3     `json:"rotation"`
	Radius       float64  `json:"radius,omitempty"`
	RadiusTop    float64  `json:"radius_top,omitempty"`
	RadiusBottom float64  `json:"radius_bottom,omitempty"`
	Height       float64  `json:"height,omitempty"`
	Segments     int      `json:"segments"`
}

// Dimensions are the six body lengths driving the avatar, in scene units.
type Dimensions struct {
	ShoulderWidth float64 `json:"shoulder_width"`
	ArmLength     float64 `json:"arm_length"`
	TorsoLength   float64 `json:"torso_length"`
	HipWidth      float64 `json:"hip_width"`
	LegLength     float64 `json:"leg_length"`
	HeadRadius    float64 `json:"head_radius"`
}

// Description is everything needed to draw an avatar.
type Description struct {
	Dimensions Dimensions  `json:"dimensions"`
	Primitives []Primitive `json:"primitives"`
}

type length struct {
	fallback float64
	aliases  []string
}

var (
	shoulderWidth = length{40, []string{"Shoulder Width", "shoulder_width", "shoulder"}}
	armLength     = length{55, []string{"Left Arm Length", "left_arm", "Arm Length", "arm_length", "Right Arm Length", "right_arm"}}
	torsoLength   = length{50, []string{"Torso Length", "torso_length", "torso"}}
	hipWidth      = length{35, []string{"Hip Width", "hip_width", "hip"}}
	legLength     = length{80, []string{"Leg Length", "leg_length", "leg"}}
)

func (l length) resolve(set measurement.Set) float64 {
	v, ok := set.Lookup(l.aliases...)
	if !ok || v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		v = l.fallback
	}
	return v * Scale
}

// DimensionsOf extracts the avatar lengths from set, substituting defaults for
// missing or non-positive values.
func DimensionsOf(set measurement.Set) Dimensions {
	shoulder := shoulderWidth.resolve(set)
	return Dimensions{
		ShoulderWidth: shoulder,
		ArmLength:     armLength.resolve(set),
		TorsoLength:   torsoLength.resolve(set),
		HipWidth:      hipWidth.resolve(set),
		LegLength:     legLength.resolve(set),
		HeadRadius:    shoulder * 0.25,
	}
}

// Describe builds the avatar for set. It never fails: every length has a
// default.
func Describe(set measurement.Set) Description {
	d := DimensionsOf(set)
	shoulder, torso, hip, leg := d.ShoulderWidth, d.TorsoLength, d.HipWidth, d.LegLength

	leftShoulder := Vec3{X: -shoulder * 0.4, Y: torso * 0.8}
	rightShoulder := Vec3{X: shoulder * 0.4, Y: torso * 0.8}
	leftHip := Vec3{X: -hip * 0.2, Y: -leg * 0.5}
	rightHip := Vec3{X: hip * 0.2, Y: -leg * 0.5}

	arm := func(name string, pos Vec3, rotZ float64) Primitive {
		return Primitive{
			Name: name, Shape: Cylinder, Material: Skin,
			Position:     pos,
			Rotation:     Vec3{Z: rotZ},
			RadiusTop:    shoulder * 0.08,
			RadiusBottom: shoulder * 0.07,
			Height:       d.ArmLength,
			Segments:     16,
		}
	}
	legPrim := func(name string, pos Vec3) Primitive {
		return Primitive{
			Name: name, Shape: Cylinder, Material: Skin,
			Position:     pos,
			RadiusTop:    hip * 0.12,
			RadiusBottom: hip * 0.1,
			Height:       leg,
			Segments:     16,
		}
	}
	joint := func(name string, pos Vec3) Primitive {
		return Primitive{
			Name: name, Shape: Sphere, Material: Joint,
			Position: pos,
			Radius:   shoulder * 0.05,
			Segments: 16,
		}
	}

	return Description{
		Dimensions: d,
		Primitives: []Primitive{
			{
				Name: "head", Shape: Sphere, Material: Skin,
				Position: Vec3{Y: torso + shoulder*0.15},
				Radius:   d.HeadRadius,
				Segments: 32,
			},
			{
				Name: "torso", Shape: Cylinder, Material: Skin,
				Position:     Vec3{Y: torso * 0.5},
				RadiusTop:    shoulder * 0.35,
				RadiusBottom: hip * 0.35,
				Height:       torso,
				Segments:     32,
			},
			arm("left_arm", leftShoulder, math.Pi*0.3),
			arm("right_arm", rightShoulder, -math.Pi*0.3),
			legPrim("left_leg", leftHip),
			legPrim("right_leg", rightHip),
			joint("left_shoulder_joint", leftShoulder),
			joint("right_shoulder_joint", rightShoulder),
			joint("left_hip_joint", leftHip),
			joint("right_hip_joint", rightHip),
		},
	}
}
