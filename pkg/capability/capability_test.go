package capability_test

import (
	"testing"

	"github.com/arzzra/rcs_core/pkg/capability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEqualityIgnoresTimestamps проверяет, что временные метки
// не участвуют в сравнении наборов возможностей
func TestEqualityIgnoresTimestamps(t *testing.T) {
	a := capability.NewBuilder().
		IMSession(true).
		FileTransferMSRP(true).
		AddExtension("ext.game").
		TimestampOfLastRequest(1000).
		TimestampOfLastResponse(2000).
		Build()

	b := capability.NewBuilder().
		IMSession(true).
		FileTransferMSRP(true).
		AddExtension("ext.game").
		TimestampOfLastRequest(99999).
		TimestampOfLastResponse(capability.TimestampInvalid).
		Build()

	assert.True(t, a.Equal(b), "метки времени не должны влиять на равенство")
	assert.True(t, b.Equal(a))
}

func TestEqualityFlagsAndExtensions(t *testing.T) {
	base := capability.NewBuilder().IMSession(true).Build()

	differentFlag := capability.NewBuilder().IMSession(true).VideoSharing(true).Build()
	assert.False(t, base.Equal(differentFlag))

	differentExt := capability.NewBuilderFrom(base).AddExtension("ext.a").Build()
	assert.False(t, base.Equal(differentExt))

	// Дубликаты расширений схлопываются
	dup := capability.NewBuilderFrom(base).
		AddExtension("ext.a").
		AddExtension("ext.a").
		Build()
	assert.True(t, differentExt.Equal(dup))
}

func TestDefaultCapability(t *testing.T) {
	def := capability.Default()

	assert.False(t, def.IMSession())
	assert.False(t, def.IPVoiceCall())
	assert.Empty(t, def.Extensions())
	assert.Equal(t, capability.TimestampInvalid, def.TimestampOfLastRequest())
	assert.Equal(t, capability.TimestampInvalid, def.TimestampOfLastResponse())

	// Сравнение по значению: свежесобранный пустой набор равен Default
	empty := capability.NewBuilder().Build()
	assert.True(t, def.Equal(empty))
}

func TestBuilderCopyConstruct(t *testing.T) {
	orig := capability.NewBuilder().
		IMSession(true).
		VideoSharing(true).
		AddExtension("ext.mmtel").
		Build()

	// Копируем и переопределяем одно поле
	updated := capability.NewBuilderFrom(orig).
		VideoSharing(false).
		Build()

	require.True(t, updated.IMSession(), "нетронутые поля должны сохраниться")
	assert.False(t, updated.VideoSharing())
	assert.True(t, updated.HasExtension("ext.mmtel"))

	// Исходный снимок не изменился
	assert.True(t, orig.VideoSharing(), "исходный снимок неизменяем")
}

func TestBuilderIsolation(t *testing.T) {
	b := capability.NewBuilder().AddExtension("ext.one")
	first := b.Build()
	b.AddExtension("ext.two")
	second := b.Build()

	assert.False(t, first.HasExtension("ext.two"),
		"снимок не должен видеть мутации builder после Build")
	assert.True(t, second.HasExtension("ext.two"))
}

func TestExtensionsSorted(t *testing.T) {
	c := capability.NewBuilder().
		AddExtension("ext.z").
		AddExtension("ext.a").
		AddExtension("ext.m").
		Build()
	assert.Equal(t, []string{"ext.a", "ext.m", "ext.z"}, c.Extensions())
}
