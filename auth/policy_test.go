package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateMasterPassword(t *testing.T) {
	cases := []struct {
		name string
		pw   string
		ok   bool
	}{
		{"empty", "", false},
		{"whitespace only", "   \t  ", false},
		{"too short", "Short1!", false},
		{"eleven chars", "abcdefghijk", false},
		{"twelve weak chars", "aaaaaaaaaaaa", false},
		{"common phrase padded", "password1234", false},
		{"strong passphrase", "CorrectHorseBatteryStaple1!", true},
		{"diceware style", "lamp-orbit-cactus-violin", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateMasterPassword(tc.pw)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrPolicy)
			}
		})
	}
}

func TestValidateRotationRequiresChange(t *testing.T) {
	err := ValidateRotation("CorrectHorseBatteryStaple1!", "CorrectHorseBatteryStaple1!")
	assert.ErrorIs(t, err, ErrPolicy)

	// Same password with trailing whitespace normalizes to the same value.
	err = ValidateRotation("CorrectHorseBatteryStaple1!", "CorrectHorseBatteryStaple1!  ")
	assert.ErrorIs(t, err, ErrPolicy)

	err = ValidateRotation("CorrectHorseBatteryStaple1!", "AnotherLongPassphrase-42")
	assert.NoError(t, err)
}

func TestNormalizePassword(t *testing.T) {
	assert.Equal(t, "abc", NormalizePassword("  abc  "))
	// NFKC folds the ligature into its compatibility form.
	assert.Equal(t, "ffi", NormalizePassword("ﬃ"))
}
