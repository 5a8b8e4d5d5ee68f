//go:build darwin

package permissions

/*
#cgo LDFLAGS: -framework AVFoundation
#import <AVFoundation/AVFoundation.h>

int checkMicrophonePermission() {
    AVAuthorizationStatus status = [AVCaptureDevice authorizationStatusForMediaType:AVMediaTypeAudio];
    return (int)status;
}

void requestMicrophonePermission() {
    [AVCaptureDevice requestAccessForMediaType:AVMediaTypeAudio completionHandler:^(BOOL granted) {}];
}
*/
import "C"

const (
	statusNotDetermined = 0
	statusRestricted    = 1
	statusDenied        = 2
	statusAuthorized    = 3
)

// CheckMicrophone returns nil when capture is authorized. When the user has
// not been asked yet it triggers the system prompt and reports the pending
// state, so the next start attempt can succeed.
func CheckMicrophone() error {
	switch int(C.checkMicrophonePermission()) {
	case statusAuthorized:
		return nil
	case statusNotDetermined:
		C.requestMicrophonePermission()
		return ErrPending
	case statusRestricted:
		return ErrRestricted
	default:
		return ErrDenied
	}
}
