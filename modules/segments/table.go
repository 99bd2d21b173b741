package segments

import lm "github.com/e7canasta/orion-posematch/modules/landmarks"

var defaultCatalog = MustLoad(defaultSegments, defaultJoints)

var defaultSegments = []Segment{
	{Name: "LEFT_BICEP", Members: []lm.Index{lm.LeftShoulder, lm.LeftElbow}},
	{Name: "RIGHT_BICEP", Members: []lm.Index{lm.RightShoulder, lm.RightElbow}},
	{Name: "LEFT_FOREARM", Members: []lm.Index{lm.LeftElbow, lm.LeftWrist}},
	{Name: "RIGHT_FOREARM", Members: []lm.Index{lm.RightElbow, lm.RightWrist}},
	{Name: "LEFT_THIGH", Members: []lm.Index{lm.LeftHip, lm.LeftKnee}},
	{Name: "RIGHT_THIGH", Members: []lm.Index{lm.RightHip, lm.RightKnee}},
	{Name: "LEFT_SHIN", Members: []lm.Index{lm.LeftKnee, lm.LeftAnkle}},
	{Name: "RIGHT_SHIN", Members: []lm.Index{lm.RightKnee, lm.RightAnkle}},
	{Name: "TORSO", Members: []lm.Index{lm.LeftShoulder, lm.RightShoulder, lm.RightHip, lm.LeftHip}},
	{Name: "ABDOMEN", Members: []lm.Index{lm.SolarPlexis, lm.Pelvis}},
	{Name: "SHOULDERS", Members: []lm.Index{lm.LeftShoulder, lm.RightShoulder}},
	{Name: "HIPS", Members: []lm.Index{lm.LeftHip, lm.RightHip}},
	{Name: "LEFT_HAND_PALM", Members: []lm.Index{lm.LeftWrist, lm.LeftPinky, lm.LeftIndex}},
	{Name: "RIGHT_HAND_PALM", Members: []lm.Index{lm.RightWrist, lm.RightPinky, lm.RightIndex}},
	{Name: "LEFT_HAND_THUMB", Members: []lm.Index{lm.LeftWrist, lm.LeftThumb}},
	{Name: "RIGHT_HAND_THUMB", Members: []lm.Index{lm.RightWrist, lm.RightThumb}},
	{Name: "LEFT_FOOT", Members: []lm.Index{lm.LeftAnkle, lm.LeftHeel, lm.LeftFootIndex}},
	{Name: "RIGHT_FOOT", Members: []lm.Index{lm.RightAnkle, lm.RightHeel, lm.RightFootIndex}},
}

var defaultJoints = []Joint{
	{Name: "LEFT_ELBOW", A: lm.LeftShoulder, Vertex: lm.LeftElbow, C: lm.LeftWrist},
	{Name: "RIGHT_ELBOW", A: lm.RightShoulder, Vertex: lm.RightElbow, C: lm.RightWrist},
	{Name: "LEFT_SHOULDER", A: lm.LeftElbow, Vertex: lm.LeftShoulder, C: lm.LeftHip},
	{Name: "RIGHT_SHOULDER", A: lm.RightElbow, Vertex: lm.RightShoulder, C: lm.RightHip},
	{Name: "LEFT_HIP", A: lm.LeftShoulder, Vertex: lm.LeftHip, C: lm.LeftKnee},
	{Name: "RIGHT_HIP", A: lm.RightShoulder, Vertex: lm.RightHip, C: lm.RightKnee},
	{Name: "LEFT_KNEE", A: lm.LeftHip, Vertex: lm.LeftKnee, C: lm.LeftAnkle},
	{Name: "RIGHT_KNEE", A: lm.RightHip, Vertex: lm.RightKnee, C: lm.RightAnkle},
}
