package analysis_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/ts-vigil/internal/analysis"
	"github.com/technosupport/ts-vigil/internal/data"
)

type MockFrames struct{ mock.Mock }

func (m *MockFrames) CurrentFrame(ctx context.Context, cameraID string) (data.Frame, error) {
	args := m.Called(cameraID)
	return args.Get(0).(data.Frame), args.Error(1)
}

type MockFaces struct{ mock.Mock }

func (m *MockFaces) Identify(ctx context.Context, image []byte) ([]data.FaceCandidate, error) {
	args := m.Called(image)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]data.FaceCandidate), args.Error(1)
}

type MockVision struct{ mock.Mock }

func (m *MockVision) Analyze(ctx context.Context, req data.VisionRequest) (string, error) {
	args := m.Called(req)
	return args.String(0), args.Error(1)
}

type MockPeople struct{ mock.Mock }

func (m *MockPeople) DisplayNames(ctx context.Context, ids []string) (map[string]string, error) {
	args := m.Called(ids)
	return args.Get(0).(map[string]string), args.Error(1)
}

type visionFunc func(ctx context.Context, req data.VisionRequest) (string, error)

func (f visionFunc) Analyze(ctx context.Context, req data.VisionRequest) (string, error) {
	return f(ctx, req)
}

var fastConfig = analysis.Config{
	FrameRetryDelays: []time.Duration{time.Millisecond, time.Millisecond},
	VisionBaseDelay:  time.Millisecond,
}

var frame = data.Frame{Image: []byte{0xff, 0xd8, 0xff}, CapturedAt: time.Date(2026, 10, 15, 7, 30, 0, 0, time.UTC)}

func porch(t data.Trigger) data.AdmittedTrigger {
	cam := data.Camera{ID: "porch", Name: "Front Porch", AnalysisPrompt: "Who is at the door?"}
	return data.NewAdmittedTrigger(cam, t, time.Date(2026, 10, 15, 7, 29, 59, 0, time.UTC))
}

func TestRun_Success(t *testing.T) {
	frames := new(MockFrames)
	faces := new(MockFaces)
	vision := new(MockVision)
	people := new(MockPeople)

	frames.On("CurrentFrame", "porch").Return(frame, nil).Once()
	faces.On("Identify", frame.Image).Return([]data.FaceCandidate{{PersonID: "p-1", Confidence: 0.9}, {Confidence: 0.7}}, nil)
	people.On("DisplayNames", []string{"p-1"}).Return(map[string]string{"p-1": "Alice"}, nil)
	vision.On("Analyze", mock.MatchedBy(func(req data.VisionRequest) bool {
		return assert.Contains(t, req.Prompt, "Who is at the door?") &&
			assert.Contains(t, req.Prompt, "Alice") &&
			assert.Contains(t, req.Prompt, "an unidentified person") &&
			assert.Equal(t, frame.Image, req.Image)
	})).Return("Alice is at the door with a visitor. Both are smiling.", nil).Once()

	o := analysis.NewOrchestrator(fastConfig, analysis.Collaborators{Frames: frames, Faces: faces, Vision: vision, People: people})
	res := o.Run(context.Background(), porch(data.WebhookTrigger{}))

	assert.Equal(t, data.AnalysisOK, res.Status)
	assert.Equal(t, "Front Porch", res.CameraName)
	assert.Equal(t, frame.CapturedAt, res.CapturedAt)
	assert.Equal(t, []string{"Alice"}, res.IdentifiedNames())
	assert.Equal(t, 1, res.UnknownFaces())
	assert.Equal(t, "Alice is at the door with a visitor. Both are smiling.", res.Description)
	assert.NotEmpty(t, res.NotificationText)
	mock.AssertExpectationsForObjects(t, frames, faces, vision, people)
}

func TestRun_VisionFailsTwiceThenSucceeds(t *testing.T) {
	frames := new(MockFrames)
	vision := new(MockVision)
	frames.On("CurrentFrame", "porch").Return(frame, nil)
	vision.On("Analyze", mock.Anything).Return("", &data.ProviderError{StatusCode: 503, Err: errors.New("overloaded")}).Twice()
	vision.On("Analyze", mock.Anything).Return("A parcel on the step.", nil).Once()

	o := analysis.NewOrchestrator(fastConfig, analysis.Collaborators{Frames: frames, Vision: vision})
	res := o.Run(context.Background(), porch(data.MotionTrigger{Score: 0.4}))

	assert.Equal(t, data.AnalysisOK, res.Status)
	assert.Equal(t, "A parcel on the step.", res.Description)
	vision.AssertNumberOfCalls(t, "Analyze", 3)
}

func TestRun_VisionGivesUp(t *testing.T) {
	frames := new(MockFrames)
	vision := new(MockVision)
	frames.On("CurrentFrame", "porch").Return(frame, nil)
	vision.On("Analyze", mock.Anything).Return("", &data.ProviderError{StatusCode: 500, Err: errors.New("boom")})

	o := analysis.NewOrchestrator(fastConfig, analysis.Collaborators{Frames: frames, Vision: vision})
	res := o.Run(context.Background(), porch(data.MotionTrigger{}))

	assert.Equal(t, data.AnalysisAIFailed, res.Status)
	assert.Contains(t, res.Reason, "AI analysis failed")
	assert.Contains(t, res.Reason, "boom")
	assert.Empty(t, res.Description)
	vision.AssertNumberOfCalls(t, "Analyze", 3)
}

func TestRun_PermanentVisionErrorNotRetried(t *testing.T) {
	frames := new(MockFrames)
	vision := new(MockVision)
	frames.On("CurrentFrame", "porch").Return(frame, nil)
	vision.On("Analyze", mock.Anything).Return("", &data.ProviderError{StatusCode: 400, Permanent: true, Err: errors.New("bad key")})

	o := analysis.NewOrchestrator(fastConfig, analysis.Collaborators{Frames: frames, Vision: vision})
	res := o.Run(context.Background(), porch(data.MotionTrigger{}))

	assert.Equal(t, data.AnalysisAIFailed, res.Status)
	vision.AssertNumberOfCalls(t, "Analyze", 1)
}

func TestRun_CameraUnreachable(t *testing.T) {
	frames := new(MockFrames)
	vision := new(MockVision)
	frames.On("CurrentFrame", "porch").Return(data.Frame{}, errors.New("connection refused"))

	o := analysis.NewOrchestrator(fastConfig, analysis.Collaborators{Frames: frames, Vision: vision})
	res := o.Run(context.Background(), porch(data.PatrolTrigger{}))

	assert.Equal(t, data.AnalysisCameraUnreachable, res.Status)
	assert.Contains(t, res.Reason, "camera unreachable")
	assert.Contains(t, res.Reason, "connection refused")
	frames.AssertNumberOfCalls(t, "CurrentFrame", 3)
	vision.AssertNotCalled(t, "Analyze", mock.Anything)
}

func TestRun_FaceMatcherFailureIsDegradedNotFatal(t *testing.T) {
	frames := new(MockFrames)
	faces := new(MockFaces)
	vision := new(MockVision)
	frames.On("CurrentFrame", "porch").Return(frame, nil)
	faces.On("Identify", mock.Anything).Return(nil, errors.New("face service down"))
	vision.On("Analyze", mock.MatchedBy(func(req data.VisionRequest) bool {
		return assert.Contains(t, req.Prompt, "No known faces were identified.")
	})).Return("Empty porch.", nil)

	o := analysis.NewOrchestrator(fastConfig, analysis.Collaborators{Frames: frames, Faces: faces, Vision: vision})
	res := o.Run(context.Background(), porch(data.MotionTrigger{}))

	assert.Equal(t, data.AnalysisOK, res.Status)
	assert.Empty(t, res.Faces)
}

func TestRun_PanicBecomesFailedResult(t *testing.T) {
	frames := new(MockFrames)
	frames.On("CurrentFrame", "porch").Return(frame, nil)
	vision := visionFunc(func(ctx context.Context, req data.VisionRequest) (string, error) {
		panic("nil map")
	})

	o := analysis.NewOrchestrator(fastConfig, analysis.Collaborators{Frames: frames, Vision: vision})

	var res data.AnalysisResult
	require.NotPanics(t, func() { res = o.Run(context.Background(), porch(data.MotionTrigger{})) })
	assert.Equal(t, data.AnalysisAIFailed, res.Status)
	assert.Contains(t, res.Reason, "nil map")
}

func TestRun_NotificationPrompt(t *testing.T) {
	frames := new(MockFrames)
	vision := new(MockVision)
	frames.On("CurrentFrame", "porch").Return(frame, nil)
	vision.On("Analyze", mock.MatchedBy(func(req data.VisionRequest) bool { return len(req.Image) > 0 })).
		Return("A courier left a box by the door.", nil).Once()
	vision.On("Analyze", mock.MatchedBy(func(req data.VisionRequest) bool {
		return len(req.Image) == 0 && req.Prompt == "Short alert for Front Porch: A courier left a box by the door."
	})).Return("Package delivered.", nil).Once()

	a := porch(data.WebhookTrigger{})
	a.Camera.NotificationPrompt = "Short alert for {camera}: {description}"

	o := analysis.NewOrchestrator(fastConfig, analysis.Collaborators{Frames: frames, Vision: vision})
	res := o.Run(context.Background(), a)

	assert.Equal(t, data.AnalysisOK, res.Status)
	assert.Equal(t, "Package delivered.", res.NotificationText)
	vision.AssertExpectations(t)
}

func TestRun_MessageInstructionReachesPrompt(t *testing.T) {
	frames := new(MockFrames)
	vision := new(MockVision)
	frames.On("CurrentFrame", "porch").Return(frame, nil)
	vision.On("Analyze", mock.MatchedBy(func(req data.VisionRequest) bool {
		return assert.Contains(t, req.Prompt, "Instruction for delivery: answer in one line")
	})).Return("Nobody there.", nil)

	o := analysis.NewOrchestrator(fastConfig, analysis.Collaborators{Frames: frames, Vision: vision})
	res := o.Run(context.Background(), porch(data.MessageTrigger{Text: "is anyone at the door", Instruction: "answer in one line"}))
	assert.True(t, res.OK())
}
