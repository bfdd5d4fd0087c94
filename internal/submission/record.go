package submission

import (
	"encoding/hex"
	"fmt"
	"sort"

	"golang.org/x/crypto/blake2b"

	"livecheck/internal/evidence"
)

const (
	fieldMetadata = "metadata"
	fieldDocument = "document"
	fieldSelfie   = "selfie"
	fieldEvidence = "evidence"
)

func extension(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}

func evidenceKey(p *Package, i int, f evidence.CaptureFrame) string {
	return fmt.Sprintf("%s/evidence/%02d%s", p.Applicant.SessionID, i, extension(f.ContentType))
}

func selfieKey(p *Package, f evidence.CaptureFrame) string {
	return fmt.Sprintf("%s/selfie%s", p.Applicant.SessionID, extension(f.ContentType))
}

func frameRef(field, name string, f evidence.CaptureFrame) FrameRef {
	return FrameRef{
		Field:       field,
		Name:        name,
		Step:        f.Step,
		ImageRef:    f.ImageRef,
		ContentType: f.ContentType,
		Timestamp:   f.Timestamp,
		Confidence:  f.Confidence(),
		Sharpness:   f.Sharpness,
	}
}

// buildBundle assembles the record and binary parts. Frames are expected to
// carry their final image references already.
func buildBundle(p *Package, selfie *evidence.CaptureFrame, frames []evidence.CaptureFrame) *Bundle {
	rec := Record{
		Applicant:  p.Applicant,
		Decision:   decisionRecord(p),
		Challenges: make([]ChallengeRecord, 0, len(p.Challenges)),
		Document:   p.Document,
		Evidence:   make([]FrameRef, 0, len(frames)),
	}
	for _, r := range p.Challenges {
		rec.Challenges = append(rec.Challenges, ChallengeRecord{
			Kind:        string(r.Challenge.Kind),
			Status:      string(r.Status),
			Detected:    r.Detected,
			Confidence:  r.Confidence,
			ElapsedMS:   r.Elapsed.Milliseconds(),
			SampleCount: r.SampleCount,
		})
	}
	if s := p.Scan; s != nil {
		rec.Scan = &ScanRecord{
			LivenessScore: s.LivenessScore,
			QualityScore:  s.QualityScore,
			PoseSpread:    s.PoseSpread,
			EyeSpanRatio:  s.Geometry.EyeSpanRatio,
			EyeMouthRatio: s.Geometry.EyeMouthRatio,
			AspectRatio:   s.Geometry.AspectRatio,
			Smile:         s.Expression.Smile,
			EyeOpenness:   s.Expression.EyeOpenness,
			PoseSamples:   len(s.HeadPoseTrace),
			DurationMS:    s.Duration.Milliseconds(),
		}
	}

	var files []File
	for i, img := range p.DocumentImages {
		name := img.Name
		if name == "" {
			name = fmt.Sprintf("document-%02d%s", i, extension(img.ContentType))
		}
		files = append(files, File{Field: fieldDocument, Name: name, ContentType: img.ContentType, Data: img.Data})
	}
	if selfie != nil {
		name := "selfie" + extension(selfie.ContentType)
		ref := frameRef(fieldSelfie, name, *selfie)
		rec.Selfie = &ref
		if len(selfie.Data()) > 0 {
			files = append(files, File{Field: fieldSelfie, Name: name, ContentType: selfie.ContentType, Data: selfie.Data()})
		}
	}
	for i, f := range frames {
		name := fmt.Sprintf("evidence-%02d%s", i, extension(f.ContentType))
		rec.Evidence = append(rec.Evidence, frameRef(fieldEvidence, name, f))
		if len(f.Data()) > 0 {
			files = append(files, File{Field: fieldEvidence, Name: name, ContentType: f.ContentType, Data: f.Data()})
		}
	}
	rec.EvidenceDigest = digestFiles(files)
	return &Bundle{Record: rec, Files: files}
}

func decisionRecord(p *Package) DecisionRecord {
	d := p.Decision
	reasons := make([]string, 0, len(d.FailureReasons))
	for _, r := range d.FailureReasons {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)
	return DecisionRecord{
		Passed:            d.Passed,
		LivenessScore:     d.LivenessScore,
		QualityScore:      d.QualityScore,
		FailureReasons:    reasons,
		DecidedAt:         d.DecidedAt,
		ChallengeLiveness: d.ChallengeLiveness,
		ScanLiveness:      d.ScanLiveness,
	}
}

// digestFiles is a BLAKE2b-256 over every part's field, name and bytes in order.
func digestFiles(files []File) string {
	h, _ := blake2b.New256(nil)
	for _, f := range files {
		h.Write([]byte(f.Field))
		h.Write([]byte{0})
		h.Write([]byte(f.Name))
		h.Write([]byte{0})
		h.Write(f.Data)
	}
	return hex.EncodeToString(h.Sum(nil))
}
