package google

import (
	"context"

	gdrive "google.golang.org/api/drive/v3"
	goption "google.golang.org/api/option"
)

func newDriveForTest(ctx context.Context, endpoint string) (*gdrive.Service, error) {
	return gdrive.NewService(ctx, goption.WithEndpoint(endpoint), goption.WithoutAuthentication())
}
