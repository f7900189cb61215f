package inference

// Detection is one validated bounding box returned by the model service.
type Detection struct {
	ClassName  string
	ClassID    int
	Confidence float64
	X1, Y1     float64
	X2, Y2     float64
}

// Result is the validated outcome of one Detect call.
type Result struct {
	// Detections holds the entries that passed validation, in model order.
	Detections []Detection
	// ReportedCount is num_detections as sent by the service.
	ReportedCount int
	// Quarantined counts entries dropped by validation.
	Quarantined int
}

// Count returns the number of validated detections.
func (r *Result) Count() int {
	return len(r.Detections)
}

// predictResponse mirrors the /predict JSON body.
type predictResponse struct {
	NumDetections int             `json:"num_detections"`
	Detections    []wireDetection `json:"detections"`
}

// Pointers distinguish a missing field from an explicit zero.
type wireDetection struct {
	ClassName  string   `json:"class_name"`
	ClassID    int      `json:"class_id"`
	Confidence *float64 `json:"confidence"`
	X1         *float64 `json:"x1"`
	Y1         *float64 `json:"y1"`
	X2         *float64 `json:"x2"`
	Y2         *float64 `json:"y2"`
}
