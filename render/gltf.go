package render

import (
	"errors"
	"fmt"
	"io"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
)

// WriteGLB encodes meshes as a binary glTF document, one node per mesh.
// Vertex normals are area weighted.
func WriteGLB(w io.Writer, meshes ...Mesh) error {
	doc, err := gltfDocument(meshes)
	if err != nil {
		return err
	}
	enc := gltf.NewEncoder(w)
	enc.AsBinary = true
	return enc.Encode(doc)
}

// SaveGLB writes meshes to a binary glTF file at path.
func SaveGLB(path string, meshes ...Mesh) error {
	doc, err := gltfDocument(meshes)
	if err != nil {
		return err
	}
	return gltf.SaveBinary(doc, path)
}

func gltfDocument(meshes []Mesh) (*gltf.Document, error) {
	if len(meshes) == 0 {
		return nil, errors.New("no meshes to encode")
	}
	doc := gltf.NewDocument()
	doc.Asset.Generator = "voxrefine"
	doc.Materials = []*gltf.Material{{
		Name:      "surface",
		AlphaMode: gltf.AlphaOpaque,
		PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
			BaseColorFactor: &[4]float64{0.27, 0.54, 0.4, 1},
			MetallicFactor:  gltf.Float(0),
			RoughnessFactor: gltf.Float(1),
		},
	}}
	for mi, m := range meshes {
		if len(m.Faces) == 0 {
			return nil, fmt.Errorf("mesh %d has no faces", mi)
		}
		positions := make([][3]float32, len(m.Vertices))
		for i, v := range m.Vertices {
			positions[i] = [3]float32{v.X, v.Y, v.Z}
		}
		normals := make([][3]float32, len(m.Vertices))
		for i, n := range m.VertexNormals() {
			normals[i] = [3]float32{n.X, n.Y, n.Z}
		}
		indices := make([]uint32, 0, 3*len(m.Faces))
		for _, f := range m.Faces {
			indices = append(indices, uint32(f[0]), uint32(f[1]), uint32(f[2]))
		}
		posAccessor := modeler.WritePosition(doc, positions)
		normalAccessor := modeler.WriteNormal(doc, normals)
		indicesAccessor := modeler.WriteIndices(doc, indices)
		prim := &gltf.Primitive{
			Attributes: gltf.PrimitiveAttributes{
				gltf.POSITION: posAccessor,
				gltf.NORMAL:   normalAccessor,
			},
			Indices:  gltf.Index(indicesAccessor),
			Material: gltf.Index(0),
		}
		doc.Meshes = append(doc.Meshes, &gltf.Mesh{
			Name:       fmt.Sprintf("batch%d", mi),
			Primitives: []*gltf.Primitive{prim},
		})
		doc.Nodes = append(doc.Nodes, &gltf.Node{Mesh: gltf.Index(mi)})
		doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, mi)
	}
	return doc, nil
}
