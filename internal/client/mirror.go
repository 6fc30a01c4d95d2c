package client

import (
	"sort"
)

// ShapeStatus tags a mirrored shape as locally speculative or server
// confirmed.
type ShapeStatus string

const (
	// ShapeStatusProvisional marks a shape rendered before the server
	// confirmed it. Provisional shapes carry a local handle only.
	ShapeStatusProvisional ShapeStatus = "provisional"
	// ShapeStatusConfirmed marks a shape the server has committed.
	ShapeStatusConfirmed ShapeStatus = "confirmed"
)

// MirrorShape is the client-side rendition of a board shape.
type MirrorShape struct {
	// Handle is the stable local identifier, assigned at creation and
	// unchanged when the server id arrives.
	Handle string
	// ShapeID is the server-assigned identifier, empty while provisional.
	ShapeID    string
	Kind       string
	Attributes map[string]any
	LayerOrder int
	Status     ShapeStatus
}

func (s *MirrorShape) clone() MirrorShape {
	copied := *s
	copied.Attributes = cloneAttributes(s.Attributes)
	return copied
}

func cloneAttributes(attributes map[string]any) map[string]any {
	if attributes == nil {
		return nil
	}
	copied := make(map[string]any, len(attributes))
	for key, value := range attributes {
		copied[key] = value
	}
	return copied
}

// mirror is the local board replica. It is not safe for concurrent use;
// the engine guards it with its own mutex.
type mirror struct {
	byHandle  map[string]*MirrorShape
	byShapeID map[string]*MirrorShape
}

func newMirror() *mirror {
	return &mirror{
		byHandle:  make(map[string]*MirrorShape),
		byShapeID: make(map[string]*MirrorShape),
	}
}

func (m *mirror) add(shape *MirrorShape) {
	m.byHandle[shape.Handle] = shape
	if shape.ShapeID != "" {
		m.byShapeID[shape.ShapeID] = shape
	}
}

// confirm attaches the server identifier to a provisional shape.
func (m *mirror) confirm(handle, shapeID string) *MirrorShape {
	shape, ok := m.byHandle[handle]
	if !ok {
		return nil
	}
	shape.ShapeID = shapeID
	shape.Status = ShapeStatusConfirmed
	m.byShapeID[shapeID] = shape
	return shape
}

func (m *mirror) lookupByShapeID(shapeID string) (*MirrorShape, bool) {
	shape, ok := m.byShapeID[shapeID]
	return shape, ok
}

func (m *mirror) lookupByHandle(handle string) (*MirrorShape, bool) {
	shape, ok := m.byHandle[handle]
	return shape, ok
}

func (m *mirror) removeByShapeID(shapeID string) bool {
	shape, ok := m.byShapeID[shapeID]
	if !ok {
		return false
	}
	delete(m.byShapeID, shapeID)
	delete(m.byHandle, shape.Handle)
	return true
}

func (m *mirror) removeByHandle(handle string) bool {
	shape, ok := m.byHandle[handle]
	if !ok {
		return false
	}
	delete(m.byHandle, handle)
	if shape.ShapeID != "" {
		delete(m.byShapeID, shape.ShapeID)
	}
	return true
}

// shapes returns copies of every mirrored shape in paint order, layers
// ascending with provisional shapes after confirmed ones on ties.
func (m *mirror) shapes() []MirrorShape {
	listed := make([]MirrorShape, 0, len(m.byHandle))
	for _, shape := range m.byHandle {
		listed = append(listed, shape.clone())
	}
	sort.SliceStable(listed, func(i, j int) bool {
		if listed[i].LayerOrder != listed[j].LayerOrder {
			return listed[i].LayerOrder < listed[j].LayerOrder
		}
		if listed[i].Status != listed[j].Status {
			return listed[i].Status == ShapeStatusConfirmed
		}
		return listed[i].Handle < listed[j].Handle
	})
	return listed
}

func (m *mirror) clear() {
	m.byHandle = make(map[string]*MirrorShape)
	m.byShapeID = make(map[string]*MirrorShape)
}
