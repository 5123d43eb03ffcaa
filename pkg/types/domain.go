package types

import "encoding/json"

// Array is the wire form of a numerical array. Exactly one of Data and B64
// carries the elements, row-major.
type Array struct {
	// Element type: f64, f32, u32, i32, i64, u64 or i16.
	// example: f64
	DType string `json:"dtype" example:"f64"`
	// Dimensions, outermost first.
	// example: [4,3]
	Shape []int `json:"shape" example:"4,3"`
	// Elements as a flat JSON number array.
	Data json.RawMessage `json:"data,omitempty" swaggertype:"array,number"`
	// Elements as base64 of the little-endian bytes.
	B64 string `json:"b64,omitempty"`
}

// MeshInfo describes a mesh handle held by the server.
type MeshInfo struct {
	// Handle id.
	// example: 0b8f3c52-5f0e-4a57-9d8e-0b8c4c4b3e11
	ID string `json:"id" example:"0b8f3c52-5f0e-4a57-9d8e-0b8c4c4b3e11"`
	// Mesh kind.
	// example: Mesh33
	Kind   string `json:"kind" example:"Mesh33"`
	NVerts int    `json:"n_verts" example:"4"`
	NElems int    `json:"n_elems" example:"1"`
	NFaces int    `json:"n_faces" example:"4"`
}

// File is a mesh or solution file found in the mesh directory.
type File struct {
	// File name relative to the mesh directory.
	// example: wing.meshb
	ID string `json:"id" example:"wing.meshb"`
	// Absolute path.
	Path string `json:"path"`
	// One of mesh, meshb, sol, solb, stl.
	// example: meshb
	Format string `json:"format" example:"meshb"`
	// Binary formats are meshb and solb.
	Binary bool `json:"binary"`
	// Size in bytes.
	Size int64 `json:"size"`
}
