package bulkops_test

import (
	"errors"
	"strings"

	"github.com/wlan-tools/bulkops-backend/internal/rcloud"
	"github.com/wlan-tools/bulkops-backend/internal/server/bulkops"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Remote Error Normalization Tests", func() {
	It("Will extract the message buried inside activityDetails.error", func() {
		err := &rcloud.APIError{
			StatusCode: 422,
			Body:       `{"requestId":"req-123","activityDetails":{"activityId":"act-456","status":"FAILED","error":"{\"errors\":[{\"code\":\"WIFI-10001\",\"message\":\"quota exceeded\"}]}"}}`,
		}

		outcome := bulkops.NormalizeRemoteError(err)
		Expect(outcome.Message).To(Equal("quota exceeded"))
		Expect(outcome.ActivityId).To(Equal("act-456"))
	})

	It("Will fall back to the top-level errors list", func() {
		err := &rcloud.APIError{
			StatusCode: 400,
			Body:       `{"requestId":"req-123","errors":[{"code":"WIFI-20002","message":"venue name already in use"}]}`,
		}

		outcome := bulkops.NormalizeRemoteError(err)
		Expect(outcome.Message).To(Equal("venue name already in use"))
	})

	It("Will surface the first failed step when no explicit error message exists", func() {
		err := &rcloud.APIError{
			StatusCode: 500,
			Body:       `{"activityDetails":{"activityId":"act-789","steps":[{"description":"Validate input","status":"SUCCESS"},{"description":"Provision network","status":"FAILED","error":"switch port allocation failed"}]}}`,
		}

		outcome := bulkops.NormalizeRemoteError(err)
		Expect(outcome.Message).To(Equal("switch port allocation failed"))
		Expect(outcome.ActivityId).To(Equal("act-789"))
	})

	It("Will use the top-level error or message fields as a last structured resort", func() {
		outcome := bulkops.NormalizeRemoteError(&rcloud.APIError{
			StatusCode: 401,
			Body:       `{"error":"token expired"}`,
		})
		Expect(outcome.Message).To(Equal("token expired"))

		outcome = bulkops.NormalizeRemoteError(&rcloud.APIError{
			StatusCode: 403,
			Body:       `{"message":"insufficient privileges"}`,
		})
		Expect(outcome.Message).To(Equal("insufficient privileges"))
	})

	It("Will pass through plain, non-JSON errors unchanged", func() {
		outcome := bulkops.NormalizeRemoteError(errors.New("connection refused"))
		Expect(outcome.Message).To(Equal("connection refused"))
	})

	It("Will truncate unrecognized errors to a bounded length", func() {
		long := strings.Repeat("x", 500)

		outcome := bulkops.NormalizeRemoteError(errors.New(long))
		Expect(outcome.Message).To(HaveLen(150))
		Expect(strings.HasPrefix(long, outcome.Message)).To(BeTrue())
	})

	It("Is deterministic for the same input", func() {
		err := &rcloud.APIError{
			StatusCode: 422,
			Body:       `{"activityDetails":{"error":"{\"errors\":[{\"message\":\"quota exceeded\"}]}"}}`,
		}

		first := bulkops.NormalizeRemoteError(err)
		second := bulkops.NormalizeRemoteError(err)
		Expect(first).To(Equal(second))
	})

	It("Will return an empty outcome for a nil error", func() {
		outcome := bulkops.NormalizeRemoteError(nil)
		Expect(outcome.Message).To(BeEmpty())
		Expect(outcome.ActivityId).To(BeEmpty())
	})
})

var _ = Describe("Remote Result Normalization Tests", func() {
	It("Will recover the activity id from a remote result", func() {
		result := &rcloud.ActivityResult{
			RequestId:  "req-001",
			ActivityId: "act-001",
		}

		outcome := bulkops.NormalizeRemoteResult(result)
		Expect(outcome.ActivityId).To(Equal("act-001"))
		Expect(outcome.Details).To(Equal(result))
	})

	It("Will keep results without an activity id as plain details", func() {
		outcome := bulkops.NormalizeRemoteResult(map[string]string{"name": "venue-0001"})
		Expect(outcome.ActivityId).To(BeEmpty())
		Expect(outcome.Details).ToNot(BeNil())
	})
})
