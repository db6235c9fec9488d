package vision

import (
	"fmt"
	"image"
	"sort"

	ort "github.com/yalue/onnxruntime_go"
)

// Detection is one face found by RetinaFace, in source-image pixels.
type Detection struct {
	BBox       [4]float32 // x1, y1, x2, y2
	Confidence float32
	Landmarks  [5][2]float32
}

// Rect rounds the box to integer pixel coordinates.
func (d Detection) Rect() image.Rectangle {
	return image.Rect(int(d.BBox[0]+0.5), int(d.BBox[1]+0.5), int(d.BBox[2]+0.5), int(d.BBox[3]+0.5))
}

// Detector runs RetinaFace (det_10g) face detection.
type Detector struct {
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	threshold     float32
	inputW        int
	inputH        int
}

var strides = []int{8, 16, 32}

const (
	anchorsPerStride = 2
	nmsThreshold     = 0.4
	detInputSize     = 640
)

// det_10g output node names, per stride: scores, boxes, landmarks.
var detOutputs = [3][3]string{
	{"448", "471", "494"},
	{"451", "474", "497"},
	{"454", "477", "500"},
}

// NewDetector loads the RetinaFace ONNX model.
func NewDetector(modelPath string, threshold float32) (*Detector, error) {
	inputW, inputH := detInputSize, detInputSize

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(inputH), int64(inputW)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// Output tensors carry no batch dimension; N = (640/stride)^2 * 2.
	var (
		names   []string
		tensors []*ort.Tensor[float32]
		values  []ort.Value
	)
	widths := [3]int64{1, 4, 10}
	for kind := range detOutputs {
		for si, stride := range strides {
			n := int64((inputW / stride) * (inputH / stride) * anchorsPerStride)
			t, err := ort.NewEmptyTensor[float32](ort.NewShape(n, widths[kind]))
			if err != nil {
				destroyTensors(append(tensors, inputTensor))
				return nil, fmt.Errorf("create output tensor %s: %w", detOutputs[kind][si], err)
			}
			names = append(names, detOutputs[kind][si])
			tensors = append(tensors, t)
			values = append(values, t)
		}
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		names,
		[]ort.Value{inputTensor},
		values,
		nil,
	)
	if err != nil {
		destroyTensors(append(tensors, inputTensor))
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &Detector{
		session:       session,
		inputTensor:   inputTensor,
		outputTensors: tensors,
		threshold:     threshold,
		inputW:        inputW,
		inputH:        inputH,
	}, nil
}

// Detect finds faces in img. Boxes are in img's coordinate space.
func (d *Detector) Detect(img image.Image) ([]Detection, error) {
	b := img.Bounds()
	copy(d.inputTensor.GetData(), toCHW(img, d.inputW, d.inputH, detMean, detStd))

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	scaleW := float32(b.Dx()) / float32(d.inputW)
	scaleH := float32(b.Dy()) / float32(d.inputH)

	var dets []Detection
	for si, stride := range strides {
		dets = append(dets, decodeStride(
			d.outputTensors[si].GetData(),
			d.outputTensors[si+3].GetData(),
			d.outputTensors[si+6].GetData(),
			stride, d.inputW, d.inputH, d.threshold,
		)...)
	}

	maxW, maxH := float32(b.Dx()), float32(b.Dy())
	for i := range dets {
		box := &dets[i].BBox
		box[0] = clampF(box[0]*scaleW, 0, maxW) + float32(b.Min.X)
		box[1] = clampF(box[1]*scaleH, 0, maxH) + float32(b.Min.Y)
		box[2] = clampF(box[2]*scaleW, 0, maxW) + float32(b.Min.X)
		box[3] = clampF(box[3]*scaleH, 0, maxH) + float32(b.Min.Y)
		for li := range dets[i].Landmarks {
			dets[i].Landmarks[li][0] = dets[i].Landmarks[li][0]*scaleW + float32(b.Min.X)
			dets[i].Landmarks[li][1] = dets[i].Landmarks[li][1]*scaleH + float32(b.Min.Y)
		}
	}

	return nms(dets, nmsThreshold), nil
}

// decodeStride turns one stride's anchor outputs into detections in model
// input pixels. Box and landmark offsets are in stride units.
func decodeStride(scores, boxes, landmarks []float32, stride, inputW, inputH int, threshold float32) []Detection {
	var out []Detection
	fmW, fmH := inputW/stride, inputH/stride
	st := float32(stride)

	idx := 0
	for cy := 0; cy < fmH; cy++ {
		for cx := 0; cx < fmW; cx++ {
			for a := 0; a < anchorsPerStride; a++ {
				if score := scores[idx]; score >= threshold {
					ax, ay := float32(cx)*st, float32(cy)*st
					det := Detection{
						Confidence: score,
						BBox: [4]float32{
							ax - boxes[idx*4+0]*st,
							ay - boxes[idx*4+1]*st,
							ax + boxes[idx*4+2]*st,
							ay + boxes[idx*4+3]*st,
						},
					}
					for li := 0; li < 5; li++ {
						det.Landmarks[li] = [2]float32{
							ax + landmarks[idx*10+li*2]*st,
							ay + landmarks[idx*10+li*2+1]*st,
						}
					}
					out = append(out, det)
				}
				idx++
			}
		}
	}
	return out
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	destroyTensors(append(d.outputTensors, d.inputTensor))
}

// nms keeps the most confident of any boxes overlapping above iouThreshold.
// The result is ordered by descending confidence.
func nms(dets []Detection, iouThreshold float32) []Detection {
	if len(dets) == 0 {
		return dets
	}

	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})

	var kept []Detection
	for _, d := range dets {
		suppressed := false
		for _, k := range kept {
			if iou(k.BBox, d.BBox) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, d)
		}
	}
	return kept
}

func iou(a, b [4]float32) float32 {
	x1, y1 := max(a[0], b[0]), max(a[1], b[1])
	x2, y2 := min(a[2], b[2]), min(a[3], b[3])

	inter := max(0, x2-x1) * max(0, y2-y1)
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clampF(v, lo, hi float32) float32 {
	return min(max(v, lo), hi)
}

func destroyTensors(ts []*ort.Tensor[float32]) {
	for _, t := range ts {
		if t != nil {
			t.Destroy()
		}
	}
}
