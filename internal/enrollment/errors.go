package enrollment

import "github.com/your-org/attendance/internal/apperr"

var (
	ErrMissingFields         = apperr.New(apperr.ErrValidation, "missing_fields", "All fields are required.")
	ErrInvalidIdentityID     = apperr.New(apperr.ErrValidation, "invalid_identity_id", "Identity ID must contain only letters and numbers")
	ErrInvalidEmail          = apperr.New(apperr.ErrValidation, "invalid_email", "Please enter a valid email address")
	ErrNoPhoto               = apperr.New(apperr.ErrValidation, "no_photo", "No photo selected")
	ErrInvalidFileType       = apperr.New(apperr.ErrValidation, "invalid_file_type", "Invalid file type. Please upload a PNG, JPG, or JPEG image")
	ErrDecode                = apperr.New(apperr.ErrValidation, "decode_error", "Invalid or corrupt image file")
	ErrNoFaceDetected        = apperr.New(apperr.ErrValidation, "no_face_detected", "No face detected in the image. Please use a clear front-facing photo")
	ErrMultipleFacesDetected = apperr.New(apperr.ErrValidation, "multiple_faces_detected", "Multiple faces detected. Please use an image with only one face")
	ErrDuplicateIdentity     = apperr.New(apperr.ErrConflict, "duplicate_identity", "Identity ID already exists")
	ErrEncodingFailure       = apperr.New(apperr.ErrExternal, "encoding_failure", "Could not encode the face in the image")
	ErrIdentityNotFound      = apperr.New(apperr.ErrNotFound, "identity_not_found", "Identity not found")
)
