package wechat

import (
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/babyfamily/internal/model"
)

type mockAccessTokenProvider struct {
	getAccessTokenFn func(ctx context.Context) (string, error)
}

func (m *mockAccessTokenProvider) GetAccessToken(ctx context.Context) (string, error) {
	return m.getAccessTokenFn(ctx)
}

type mockQRCodeRequester struct {
	getUnlimitedQRCodeFn func(ctx context.Context, accessToken, scene, page string) ([]byte, error)
}

func (m *mockQRCodeRequester) GetUnlimitedQRCode(ctx context.Context, accessToken, scene, page string) ([]byte, error) {
	return m.getUnlimitedQRCodeFn(ctx, accessToken, scene, page)
}

func TestQRCodeService_Generate_Success(t *testing.T) {
	tokens := &mockAccessTokenProvider{getAccessTokenFn: func(ctx context.Context) (string, error) {
		return "tok", nil
	}}
	client := &mockQRCodeRequester{getUnlimitedQRCodeFn: func(ctx context.Context, accessToken, scene, page string) ([]byte, error) {
		if accessToken != "tok" || scene != "CODE1234" || page != DefaultQRCodePage {
			t.Errorf("unexpected args: %q %q %q", accessToken, scene, page)
		}
		return []byte{0x89, 'P', 'N', 'G'}, nil
	}}

	svc := NewQRCodeService(tokens, client, "")
	png, err := svc.Generate(context.Background(), "CODE1234")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(png) != 4 {
		t.Errorf("unexpected image length %d", len(png))
	}
}

func TestQRCodeService_Generate_TokenError(t *testing.T) {
	want := model.NewExternalProviderError()
	tokens := &mockAccessTokenProvider{getAccessTokenFn: func(ctx context.Context) (string, error) {
		return "", want
	}}
	client := &mockQRCodeRequester{getUnlimitedQRCodeFn: func(ctx context.Context, accessToken, scene, page string) ([]byte, error) {
		t.Fatal("should not request qrcode without token")
		return nil, nil
	}}

	_, err := NewQRCodeService(tokens, client, "pages/x").Generate(context.Background(), "CODE")
	if !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
}

// プロバイダのエラーはそのまま返さずExternalProviderErrorに変換する
func TestQRCodeService_Generate_ProviderErrorWrapped(t *testing.T) {
	tokens := &mockAccessTokenProvider{getAccessTokenFn: func(ctx context.Context) (string, error) {
		return "tok", nil
	}}
	client := &mockQRCodeRequester{getUnlimitedQRCodeFn: func(ctx context.Context, accessToken, scene, page string) ([]byte, error) {
		return nil, &APIError{ErrCode: 40001, ErrMsg: "invalid credential"}
	}}

	_, err := NewQRCodeService(tokens, client, "pages/x").Generate(context.Background(), "CODE")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeExternalProvider {
		t.Fatalf("expected EXTERNAL_PROVIDER_ERROR, got %v", err)
	}
	var wxErr *APIError
	if errors.As(err, &wxErr) {
		t.Error("provider error must not be passed through")
	}
}
