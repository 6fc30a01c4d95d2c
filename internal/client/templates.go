package client

import (
	"errors"
	"fmt"
)

// Template names accepted by InsertTemplate.
const (
	TemplateBrainstorming = "brainstorming"
	TemplateWireframe     = "wireframe"
	TemplateMindMap       = "mindmap"
)

// ErrUnknownTemplate indicates a template name InsertTemplate does not know.
var ErrUnknownTemplate = errors.New("client: unknown template")

type templateShape struct {
	kind       string
	attributes map[string]any
}

// InsertTemplate stamps a prebuilt arrangement of shapes onto the board at
// the given origin. Each shape goes through the ordinary create path, so
// the whole template renders provisionally at once and confirms piecemeal.
func (e *Engine) InsertTemplate(name string, originX, originY float64) ([]string, error) {
	var shapes []templateShape
	switch name {
	case TemplateBrainstorming:
		shapes = brainstormingTemplate(originX, originY)
	case TemplateWireframe:
		shapes = wireframeTemplate(originX, originY)
	case TemplateMindMap:
		shapes = mindMapTemplate(originX, originY)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}

	handles := make([]string, 0, len(shapes))
	for _, shape := range shapes {
		handle, err := e.CreateShape(shape.kind, shape.attributes, nil)
		if err != nil {
			return handles, err
		}
		handles = append(handles, handle)
	}
	return handles, nil
}

// brainstormingTemplate lays out a three column kanban wall with one sample
// card per column.
func brainstormingTemplate(originX, originY float64) []templateShape {
	const columnWidth = 250.0
	columns := []struct {
		title      string
		headerFill string
		sample     string
	}{
		{title: "To Do", headerFill: "#E0E7FF", sample: "Research"},
		{title: "In Progress", headerFill: "#FEF3C7", sample: "Design"},
		{title: "Done", headerFill: "#DCFCE7", sample: "Launch"},
	}

	shapes := make([]templateShape, 0, len(columns)*5)
	for index, column := range columns {
		left := originX + 10 + float64(index)*(columnWidth+20)
		top := originY + 20

		shapes = append(shapes,
			templateShape{kind: "rectangle", attributes: map[string]any{
				"x": left, "y": top + 50, "width": columnWidth, "height": 400.0,
				"fill": "#F8FAFC", "stroke": "#E2E8F0",
			}},
			templateShape{kind: "rectangle", attributes: map[string]any{
				"x": left, "y": top, "width": columnWidth, "height": 50.0,
				"fill": column.headerFill, "stroke": "#CBD5E1",
			}},
			templateShape{kind: "text", attributes: map[string]any{
				"x": left + 20, "y": top + 15, "text": column.title,
				"fontSize": 20.0, "fill": "#334155",
			}},
			templateShape{kind: "sticky-note", attributes: map[string]any{
				"x": left + 20, "y": top + 70, "width": columnWidth - 40, "height": 80.0,
				"fill": "#FFFFFF", "stroke": "#E2E8F0",
			}},
			templateShape{kind: "text", attributes: map[string]any{
				"x": left + 35, "y": top + 90, "text": column.sample,
				"fontSize": 16.0, "fill": "#475569",
			}},
		)
	}
	return shapes
}

// wireframeTemplate sketches a browser window with a title bar, traffic
// light buttons, a URL bar and a hero section.
func wireframeTemplate(originX, originY float64) []templateShape {
	frameX := originX + 50
	frameY := originY + 50
	const frameWidth = 700.0
	const frameHeight = 500.0

	shapes := []templateShape{
		{kind: "rectangle", attributes: map[string]any{
			"x": frameX, "y": frameY, "width": frameWidth, "height": frameHeight,
			"fill": "#FFFFFF", "stroke": "#94A3B8",
		}},
		{kind: "rectangle", attributes: map[string]any{
			"x": frameX, "y": frameY, "width": frameWidth, "height": 40.0,
			"fill": "#F1F5F9", "stroke": "#94A3B8",
		}},
		{kind: "rectangle", attributes: map[string]any{
			"x": frameX + 100, "y": frameY + 8, "width": frameWidth - 200, "height": 24.0,
			"fill": "#FFFFFF", "stroke": "#CBD5E1",
		}},
	}
	for index, fill := range []string{"#EF4444", "#F59E0B", "#10B981"} {
		shapes = append(shapes, templateShape{kind: "circle", attributes: map[string]any{
			"x": frameX + 15 + float64(index)*20, "y": frameY + 12,
			"radius": 6.0, "fill": fill,
		}})
	}
	shapes = append(shapes,
		templateShape{kind: "rectangle", attributes: map[string]any{
			"x": frameX + 20, "y": frameY + 60, "width": frameWidth - 40, "height": 200.0,
			"fill": "#EEF2FF", "stroke": "#C7D2FE",
		}},
		templateShape{kind: "text", attributes: map[string]any{
			"x": frameX + frameWidth/2 - 60, "y": frameY + 150, "text": "Hero Image",
			"fontSize": 24.0, "fill": "#6366F1",
		}},
	)
	return shapes
}

// mindMapTemplate places a central node with four satellite topics joined
// by dashed connector lines.
func mindMapTemplate(centerX, centerY float64) []templateShape {
	shapes := []templateShape{
		{kind: "circle", attributes: map[string]any{
			"x": centerX - 60, "y": centerY - 60, "radius": 60.0,
			"fill": "#3B82F6", "stroke": "#1D4ED8",
		}},
		{kind: "text", attributes: map[string]any{
			"x": centerX - 35, "y": centerY - 15, "text": "Central Idea",
			"fontSize": 20.0, "fill": "#FFFFFF",
		}},
	}

	satellites := []struct {
		dx, dy float64
		fill   string
	}{
		{dx: -200, dy: -150, fill: "#F87171"},
		{dx: 200, dy: -150, fill: "#FBBF24"},
		{dx: -200, dy: 150, fill: "#34D399"},
		{dx: 200, dy: 150, fill: "#A78BFA"},
	}
	for index, satellite := range satellites {
		shapes = append(shapes,
			templateShape{kind: "line", attributes: map[string]any{
				"x1": centerX, "y1": centerY,
				"x2": centerX + satellite.dx, "y2": centerY + satellite.dy,
				"stroke": "#94A3B8", "dashed": true,
			}},
			templateShape{kind: "rectangle", attributes: map[string]any{
				"x": centerX + satellite.dx - 60, "y": centerY + satellite.dy - 40,
				"width": 120.0, "height": 80.0, "fill": satellite.fill,
			}},
			templateShape{kind: "text", attributes: map[string]any{
				"x": centerX + satellite.dx - 30, "y": centerY + satellite.dy - 10,
				"text": fmt.Sprintf("Topic %d", index+1), "fontSize": 16.0, "fill": "#1F2937",
			}},
		)
	}
	return shapes
}
