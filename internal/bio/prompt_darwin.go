//go:build darwin

package bio

/*
#cgo CFLAGS: -x objective-c -fobjc-arc
#cgo LDFLAGS: -framework LocalAuthentication -framework Foundation -framework Security -framework CoreFoundation

#import <LocalAuthentication/LocalAuthentication.h>
#import <Foundation/Foundation.h>
#import <dispatch/dispatch.h>
#include <stdlib.h>

static int vaultcore_bio_available(void) {
	@autoreleasepool {
		LAContext *context = [[LAContext alloc] init];
		if (!context) {
			return 0;
		}
		NSError *err = nil;
		BOOL ok = [context canEvaluatePolicy:LAPolicyDeviceOwnerAuthenticationWithBiometrics error:&err];
		[context invalidate];
		return ok ? 1 : 0;
	}
}

static int vaultcore_bio_prompt(const char *cReason) {
	@autoreleasepool {
		NSString *reason = cReason ? [[NSString alloc] initWithUTF8String:cReason] : nil;
		if (!reason || reason.length == 0) {
			reason = @"Authenticate to continue";
		}

		LAContext *context = [[LAContext alloc] init];
		if (!context) {
			return -100;
		}

		NSError *canError = nil;
		if (![context canEvaluatePolicy:LAPolicyDeviceOwnerAuthenticationWithBiometrics error:&canError]) {
			return canError ? (int)[canError code] : -101;
		}

		dispatch_semaphore_t sema = dispatch_semaphore_create(0);
		__block BOOL success = NO;
		__block NSError *evalError = nil;

		[context evaluatePolicy:LAPolicyDeviceOwnerAuthenticationWithBiometrics
		        localizedReason:reason
		                  reply:^(BOOL evaluated, NSError * _Nullable error) {
		                      success = evaluated;
		                      evalError = error;
		                      dispatch_semaphore_signal(sema);
		                  }];

		// The user gets 60 seconds before the prompt is abandoned.
		dispatch_time_t deadline = dispatch_time(DISPATCH_TIME_NOW, (int64_t)(60 * NSEC_PER_SEC));
		long waited = dispatch_semaphore_wait(sema, deadline);
		[context invalidate];

		if (waited != 0) {
			return -103;
		}
		if (success) {
			return 0;
		}
		return evalError ? (int)[evalError code] : -104;
	}
}
*/
import "C"

import (
	"fmt"
	"strings"
	"unsafe"
)

// LocalAuthentication is only reachable from Objective-C, hence the cgo
// bridge above.

type darwinCapability struct{}

func platformCapability() Capability { return darwinCapability{} }

func (darwinCapability) Available() bool {
	return int(C.vaultcore_bio_available()) == 1
}

func (darwinCapability) Authenticate(reason string) error {
	if strings.TrimSpace(reason) == "" {
		reason = "Authenticate to unlock the vault"
	}
	cReason := C.CString(reason)
	defer C.free(unsafe.Pointer(cReason))

	if code := int(C.vaultcore_bio_prompt(cReason)); code != 0 {
		return fmt.Errorf("bio: authentication failed (code %d)", code)
	}
	return nil
}
